package proxy

import (
	"context"
	"fmt"
	"net/http"

	"github.com/felixgeelhaar/apl/domain/tool"
)

// NewFetchProxy returns the live fetch proxy: an HTTP GET whose body is
// returned as a string.
func NewFetchProxy(d tool.Descriptor, client *HTTPClient) tool.Proxy {
	return tool.NewFuncProxy(d, func(ctx context.Context, inv tool.Invocation) (tool.Result, error) {
		url, ok := inv.Args["url"].(string)
		if !ok || url == "" {
			return tool.Result{}, fmt.Errorf("%w: fetch requires a url string", tool.ErrInvalidInput)
		}
		data, err := client.Do(ctx, http.MethodGet, url, nil, nil)
		if err != nil {
			return tool.Result{}, err
		}
		return tool.NewValueResult(string(data))
	})
}
