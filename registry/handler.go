package registry

import (
	"fmt"
	"strings"

	"repe/bodycodec"
	"repe/message"
	"repe/rpcerr"
)

// Handle implements spec.md §4.8's request dispatch: a request whose query
// resolves to a pointer path is a READ when the body is empty, a CALL when
// the body is present and the resolved target is a Callable, and a WRITE
// otherwise.
func (r *Registry) Handle(req *message.Message, adapter *bodycodec.Adapter) *message.Message {
	path := req.ParseQuery()

	if len(req.Body) == 0 {
		return r.handleRead(req, path, adapter)
	}
	if fn, ok := r.callableAt(path); ok {
		return r.handleCall(req, path, fn, adapter)
	}
	return r.handleWrite(req, path, adapter)
}

func (r *Registry) handleRead(req *message.Message, path string, adapter *bodycodec.Adapter) *message.Message {
	value, err := r.Get(path)
	if err != nil {
		return errResponse(req, rpcerr.InvalidQuery, err.Error())
	}
	if _, ok := value.(Callable); ok {
		value = map[string]any{"type": "function", "path": path}
	}

	body, err := adapter.Encode(value, bodycodec.JSON)
	if err != nil {
		return errResponse(req, rpcerr.ParseError, err.Error())
	}
	return message.New(req.Header.ID, req.Query, body, message.QueryFormat(req.Header.QueryFormat), bodycodec.JSON, false, rpcerr.OK)
}

func (r *Registry) handleWrite(req *message.Message, path string, adapter *bodycodec.Adapter) *message.Message {
	value, err := adapter.Decode(req.Body, bodycodec.Format(req.Header.BodyFormat))
	if err != nil {
		return errResponse(req, rpcerr.InvalidBody, err.Error())
	}

	if err := r.Set(path, value); err != nil {
		return errResponse(req, rpcerr.InvalidQuery, err.Error())
	}

	body, _ := adapter.Encode(map[string]any{"ok": true}, bodycodec.JSON)
	return message.New(req.Header.ID, req.Query, body, message.QueryFormat(req.Header.QueryFormat), bodycodec.JSON, false, rpcerr.OK)
}

func (r *Registry) handleCall(req *message.Message, path string, fn Callable, adapter *bodycodec.Adapter) *message.Message {
	decoded, err := adapter.Decode(req.Body, bodycodec.Format(req.Header.BodyFormat))
	if err != nil {
		return errResponse(req, rpcerr.InvalidBody, err.Error())
	}

	var args any
	switch v := decoded.(type) {
	case map[string]any:
		if len(v) > 0 {
			args = v
		}
	case []any:
		if len(v) > 0 {
			args = v
		}
	default:
		args = v
	}

	result, err := fn(args)
	if err != nil {
		return errResponse(req, rpcerr.ApplicationErrorBase, fmt.Sprintf("call %q: %v", path, err))
	}

	body, err := adapter.Encode(result, bodycodec.JSON)
	if err != nil {
		return errResponse(req, rpcerr.ParseError, err.Error())
	}
	return message.New(req.Header.ID, req.Query, body, message.QueryFormat(req.Header.QueryFormat), bodycodec.JSON, false, rpcerr.OK)
}

func errResponse(req *message.Message, code rpcerr.ErrorCode, text string) *message.Message {
	return message.New(req.Header.ID, req.Query, []byte(text), message.QueryFormat(req.Header.QueryFormat), bodycodec.UTF8, false, code)
}

// stripPrefix removes prefix from path if present, returning the
// remainder (always beginning with "/", or empty for the root). Used by
// Serve to translate a mounted sub-tree's external paths into pointer
// paths relative to the registry root.
func stripPrefix(path, prefix string) (string, bool) {
	if prefix == "" {
		return path, true
	}
	if path == prefix {
		return "", true
	}
	if strings.HasPrefix(path, prefix+"/") {
		return path[len(prefix):], true
	}
	return "", false
}
