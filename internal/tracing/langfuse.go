// Package tracing wires optional Langfuse tracing into the eino callback
// chain. Tracing is opt-in through environment variables and the rest of the
// backend never needs to know whether it is active.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

const defaultHost = "http://localhost:3000"

// Setup builds the Langfuse callback handler when both LANGFUSE_PUBLIC_KEY
// and LANGFUSE_SECRET_KEY are present. The returned flush function sends any
// buffered traces and must run before process exit. When tracing is not
// configured the third return value is false and the others are nil.
func Setup() (callbacks.Handler, func(), bool) {
	pub, sec := os.Getenv("LANGFUSE_PUBLIC_KEY"), os.Getenv("LANGFUSE_SECRET_KEY")
	if pub == "" || sec == "" {
		return nil, nil, false
	}

	host := os.Getenv("LANGFUSE_HOST")
	if host == "" {
		host = defaultHost
	}

	handler, flush := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: pub,
		SecretKey: sec,
	})
	return handler, flush, true
}
