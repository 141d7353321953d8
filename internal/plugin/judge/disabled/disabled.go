package disabled

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/entrained/engram-service/internal/registry/judge"
)

func init() {
	judge.Register(judge.Plugin{
		Name: "disabled",
		Loader: func(ctx context.Context) (judge.Judge, error) {
			return &disabledJudge{}, nil
		},
	})
}

type disabledJudge struct{}

func (d *disabledJudge) Judge(_ context.Context, _, _ string) (json.RawMessage, error) {
	return nil, fmt.Errorf("judge is disabled")
}

func (d *disabledJudge) ModelName() string { return "disabled" }

var _ judge.Judge = (*disabledJudge)(nil)
