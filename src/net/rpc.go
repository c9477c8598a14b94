package net

// RPCResponse captures both a response and a potential error.
type RPCResponse struct {
	Response interface{}
	Error    error
}

// RPC encapsulates an RPC request and provides a response mechanism. Link is
// the link the request arrived on. Notifications have a nil RespChan.
type RPC struct {
	Command  interface{}
	Link     *Link
	RespChan chan<- RPCResponse
}

// Respond is used to respond with a response, error or both. It is a no-op
// for notifications.
func (r *RPC) Respond(resp interface{}, err error) {
	if r.RespChan == nil {
		return
	}
	r.RespChan <- RPCResponse{resp, err}
}
