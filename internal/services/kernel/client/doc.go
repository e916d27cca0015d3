// Package client is the bridge's handle on one running Jupyter kernel.
//
// A Session owns the shell, iopub and control sockets described by a
// connection descriptor, one reader goroutine per socket, and the table of
// in-flight executions. Replies are correlated to requests by the msg_id in
// their parent header; everything else on the sockets is ignored.
package client
