// Package httpclient is the client HTTP bridge: connections, request
// messages, streams and a connection pool.
//
// Everything asynchronous is reported through callbacks that run on the
// event loop the connection was pinned to when it was opened. Validation
// failures are returned synchronously and never fire a callback.
//
//	conn, err := httpclient.Open(httpclient.ConnectionOptions{
//	    Bootstrap: bootstrap,
//	    HostName:  "example.com",
//	    Port:      443,
//	    TLSOptions: &httpclient.TLSConnectionOptions{Context: tlsCtx},
//	    OnSetup: func(c *httpclient.Connection, err error) { ... },
//	    OnShutdown: func(c *httpclient.Connection, err error) { ... },
//	})
//
// # Requests and Streams
//
// A Request keeps headers in insertion order, duplicates included, and
// sends them in that order on HTTP/1.1. HTTP/2 responses arrive as a
// header map, so their fields are delivered lower-cased and sorted by name.
//
//	req, _ := httpclient.NewRequest("GET", "/")
//	_ = req.AddHeader("Host", "example.com")
//
//	stream, err := conn.MakeRequest(httpclient.RequestOptions{
//	    Request:    req,
//	    OnHeaders:  func(s *httpclient.Stream, status int, h httpclient.HeaderView) { ... },
//	    OnBody:     func(s *httpclient.Stream, data []byte) { ... },
//	    OnComplete: func(s *httpclient.Stream, err error) { ... },
//	})
//	if err == nil {
//	    err = stream.Activate()
//	}
//
// Header views and body chunks are borrowed: they are valid only inside the
// callback that received them. Use HeaderView.Clone or copy the bytes to
// keep them.
//
// # Flow Control
//
// With a non-zero InitialWindowSize each stream may receive at most that
// many body bytes before more window is granted. The bridge re-grants
// window after every chunk unless ManualWindowManagement is set, in which
// case the caller calls Stream.UpdateWindow.
package httpclient
