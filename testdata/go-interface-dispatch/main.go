// Package main dispatches through an interface with three implementations.
package main

// Writer is implemented by every writer below.
type Writer interface {
	Write(data []byte) error
}

type FileWriter struct {
	name string
}

func (fw *FileWriter) Write(data []byte) error { return nil }

// Close is never called.
func (fw *FileWriter) Close() error { return nil }

type BufferWriter struct {
	buf []byte
}

func (bw *BufferWriter) Write(data []byte) error {
	bw.buf = append(bw.buf, data...)
	return nil
}

// Flush is never called.
func (bw *BufferWriter) Flush() { bw.buf = bw.buf[:0] }

// NopWriter is never constructed but still a possible receiver.
type NopWriter struct{}

func (NopWriter) Write([]byte) error { return nil }

func process(w Writer, data []byte) error {
	return w.Write(data)
}

func main() {
	_ = process(&FileWriter{name: "out.txt"}, []byte("a"))
	_ = process(&BufferWriter{}, []byte("b"))
}
