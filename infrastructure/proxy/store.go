package proxy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/apl/domain/blob"
	"github.com/felixgeelhaar/apl/domain/expr"
	"github.com/felixgeelhaar/apl/domain/tool"
)

// storeOutput is the result shape of the store primitive in both modes.
type storeOutput struct {
	Status string    `json:"status"`
	Key    string    `json:"key"`
	Value  any       `json:"value"`
	Meta   storeMeta `json:"meta"`
}

type storeMeta struct {
	Agent          string `json:"agent"`
	RequestingTask string `json:"requesting_task"`
	Key            string `json:"key"`
	Size           int    `json:"size"`
	BasePath       string `json:"base_path"`
	Checksum       string `json:"checksum,omitempty"`
}

// storeArgs extracts key, value and content type from store arguments.
// String values are stored verbatim; anything else as JSON.
func storeArgs(args map[string]any) (key string, content string, contentType string, err error) {
	key = strings.TrimSpace(expr.Stringify(args["key"]))
	if args["key"] == nil || key == "" {
		return "", "", "", fmt.Errorf("%w: store requires a key", tool.ErrInvalidInput)
	}
	contentType, _ = args["content_type"].(string)

	value := args["value"]
	if s, ok := value.(string); ok {
		content = s
		if contentType == "" {
			contentType = "text/plain"
		}
	} else {
		content = expr.Stringify(value)
		if contentType == "" {
			contentType = "application/json"
		}
	}
	return key, content, contentType, nil
}

// NewStoreProxy returns the live store proxy writing to s.
func NewStoreProxy(d tool.Descriptor, s blob.Store) tool.Proxy {
	return tool.NewFuncProxy(d, func(ctx context.Context, inv tool.Invocation) (tool.Result, error) {
		key, content, contentType, err := storeArgs(inv.Args)
		if err != nil {
			return tool.Result{}, err
		}

		obj, err := s.Put(ctx, key, strings.NewReader(content), blob.PutOptions{
			ContentType: contentType,
			Metadata: map[string]string{
				"agent":           inv.Agent,
				"requesting_task": inv.Routine,
				"step_id":         inv.StepID,
			},
		})
		if err != nil {
			if errors.Is(err, blob.ErrInvalidKey) {
				return tool.Result{}, fmt.Errorf("%w: %v", tool.ErrInvalidInput, err)
			}
			return tool.Result{}, err
		}

		return tool.NewValueResult(storeOutput{
			Status: "ok",
			Key:    key,
			Value:  inv.Args["value"],
			Meta: storeMeta{
				Agent:          inv.Agent,
				RequestingTask: inv.Routine,
				Key:            key,
				Size:           int(obj.Size),
				BasePath:       s.Location(),
				Checksum:       obj.Checksum,
			},
		})
	})
}
