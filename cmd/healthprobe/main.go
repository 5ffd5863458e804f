// Command healthprobe is a lean sidecar that answers health checks on behalf
// of a chatsyncd instance: it forwards probe traffic to the server's /readyz
// and collapses the answer into a single status code, so load balancers can
// probe without credentials or JSON parsing.
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

func main() {
	addr := flag.String("addr", ":8081", "listen address for the probe")
	upstream := flag.String("upstream", "http://127.0.0.1:8080/readyz", "chatsyncd readiness URL")
	timeout := flag.Duration("timeout", 2*time.Second, "upstream probe timeout")
	flag.Parse()

	client := &fasthttp.Client{ReadTimeout: *timeout, WriteTimeout: *timeout}

	h := func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/health", "/healthz":
			status, _, err := client.GetTimeout(nil, *upstream, *timeout)
			ctx.Response.Header.Set("Content-Type", "application/json")
			if err != nil || status != fasthttp.StatusOK {
				ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
				_, _ = ctx.WriteString(`{"status":"unreachable"}`)
				return
			}
			ctx.SetStatusCode(fasthttp.StatusOK)
			_, _ = ctx.WriteString(`{"status":"ok"}`)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}

	fmt.Printf("healthprobe listening on %s -> %s\n", *addr, *upstream)
	srv := &fasthttp.Server{
		Handler:            h,
		Name:               "chatsync-healthprobe",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		MaxRequestBodySize: 1 << 20,
	}
	if err := srv.ListenAndServe(*addr); err != nil {
		fmt.Printf("healthprobe exit: %v\n", err)
	}
}
