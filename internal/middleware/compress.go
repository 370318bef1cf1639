package middleware

import (
	"fmt"
	"net/http"

	"github.com/klauspost/compress/gzhttp"
)

// Compress 对不小于 minSize 字节且客户端接受 gzip 的应答进行压缩
func Compress(h http.Handler, minSize int) (http.Handler, error) {
	wrapper, err := gzhttp.NewWrapper(gzhttp.MinSize(minSize))
	if err != nil {
		return nil, fmt.Errorf("gzip wrapper: %w", err)
	}
	return wrapper(h), nil
}
