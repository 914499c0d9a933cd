package registry

import (
	"context"
	"strings"

	"repe/bodycodec"
	"repe/message"
	"repe/middleware"
	"repe/rpcerr"
	"repe/server"
)

// Serve installs a middleware on srv that routes every request whose query
// falls under pathPrefix through r's READ/WRITE/CALL dispatch (spec.md
// §4.8). Requests outside the prefix continue down the normal middleware
// chain and handler lookup unchanged. An empty pathPrefix mounts the
// registry at the server's entire query namespace.
func Serve(srv *server.Server, r *Registry, pathPrefix string) {
	prefix := strings.TrimSuffix(pathPrefix, "/")
	srv.Use(func(ctx context.Context, req *message.Message) middleware.Result {
		path, ok := stripPrefix(req.ParseQuery(), prefix)
		if !ok {
			return middleware.Continue()
		}
		rewritten := message.New(req.Header.ID, []byte(path), req.Body,
			message.QueryFormat(req.Header.QueryFormat), bodycodec.Format(req.Header.BodyFormat), req.Header.Notify == 1, rpcerr.OK)
		resp := r.Handle(rewritten, srv.Adapter())
		return middleware.Short(resp)
	})
}
