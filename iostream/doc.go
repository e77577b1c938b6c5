// Package iostream adapts caller-owned pull functions into the input stream
// the HTTP and signing engines read request bodies from.
//
// A caller supplies a Source: a read function that fills a buffer and
// reports whether more data follows, and a seek function that may refuse.
//
//	body, err := iostream.New(rt, iostream.Source{
//	    Read: func(buf []byte) (int, iostream.State) {
//	        n := copy(buf, payload[off:])
//	        off += n
//	        if off == len(payload) {
//	            return n, iostream.StateDone
//	        }
//	        return n, iostream.StateInProgress
//	    },
//	    Seek: func(int64, iostream.SeekBasis) bool { return false },
//	})
//
// A read function that reports more bytes than the buffer it was handed
// triggers the runtime fatal hook: the engine would otherwise trust a length
// past the end of its own buffer.
package iostream
