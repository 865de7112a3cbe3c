package rpc

import (
	"context"
	"fmt"

	"github.com/hohhen/Halibut/registry"
	"github.com/hohhen/Halibut/rpcerr"
	"github.com/hohhen/Halibut/rpclog"
	"github.com/hohhen/Halibut/wire"
)

// runDispatcher services requests on conn until it breaks or the
// lifecycle is shutting down, implementing the callee loop of spec
// §4.6. It is used both by a Listener's ordinary callee connections
// and, after role inversion, by a Poller's outbound connection (spec
// §4.7).
func runDispatcher(lc *lifecycle, conn *Connection, reg registry.Registry, logger rpclog.Logger) {
	release, ok := lc.track()
	if !ok {
		conn.Close()
		return
	}
	defer release()
	defer conn.Close()

	for {
		select {
		case <-lc.Done():
			return
		default:
		}

		if !conn.acquire() {
			return
		}

		req, streams, err := conn.readRequest()
		if err != nil {
			logger.Debugf("dispatcher: read failed on %s: %s", conn.PeerThumbprint(), err)
			return
		}

		resp, attachments := invokeOne(reg, req, streams, logger)
		if err := conn.writeResponse(resp, attachments); err != nil {
			logger.Debugf("dispatcher: write failed on %s: %s", conn.PeerThumbprint(), err)
			conn.setState(Broken)
			return
		}
		conn.release()
	}
}

// invokeOne resolves and calls the single handler for req, translating
// every failure mode into the wire ErrorDescriptor shapes of spec §4.6
// and §7. It never returns an error itself: dispatch failures are
// reported to the peer, not to the local caller of invokeOne.
func invokeOne(reg registry.Registry, req *wire.RequestFrame, streams []*wire.StreamReader, logger rpclog.Logger) (*wire.ResponseFrame, []wire.AttachmentSource) {
	svc, ok := reg.Resolve(req.Service)
	if !ok {
		return errorResponse(req.ID, rpcerr.ServiceNotFound, fmt.Sprintf("service %q not found", req.Service), ""), nil
	}

	args := attachStreamRefs(req.Arguments, streams)

	handler, err := svc.Resolve(req.Method, args)
	if err != nil {
		switch err.(type) {
		case *registry.AmbiguousError:
			return errorResponse(req.ID, rpcerr.AmbiguousMethod, err.Error(), ""), nil
		default:
			return errorResponse(req.ID, rpcerr.ServiceNotFound, err.Error(), ""), nil
		}
	}

	result, err := handler(context.Background(), args)
	if err != nil {
		return errorResponse(req.ID, rpcerr.ServiceInvocation, err.Error(), fmt.Sprintf("%+v", err)), nil
	}

	return &wire.ResponseFrame{ID: req.ID, Result: result}, nil
}

// attachStreamRefs returns args unchanged. The request's StreamReaders
// are not handed to the handler, and no Connection method exposes
// them, so a handler cannot read an attached stream; a wire.StreamRef
// argument reaches it only as an opaque token. Attachments left unread
// make the Connection's next readRequest fail.
func attachStreamRefs(args []interface{}, streams []*wire.StreamReader) []interface{} {
	return args
}

func errorResponse(id string, kind rpcerr.Kind, message, detail string) *wire.ResponseFrame {
	return &wire.ResponseFrame{
		ID: id,
		Error: &wire.ErrorDescriptor{
			Kind:    kind.String(),
			Message: message,
			Detail:  detail,
		},
	}
}
