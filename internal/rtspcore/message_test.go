package rtspcore

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func TestReadRequestParsesLineHeadersAndBody(t *testing.T) {
	raw := "DESCRIBE rtsp://host/live RTSP/1.0\r\n" +
		"CSeq: 2\r\n" +
		"Content-Length: 5\r\n" +
		"\r\n" +
		"hello"

	req, err := ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if req.Method != MethodDescribe || req.URL != "rtsp://host/live" || req.Version != "1.0" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if got := ParseCSeq(req.Headers); got != 2 {
		t.Fatalf("ParseCSeq = %d", got)
	}
	if string(req.Body) != "hello" {
		t.Fatalf("body = %q", req.Body)
	}
}

func TestWriteResponseIncludesContentLength(t *testing.T) {
	resp := NewResponse(StatusOK)
	resp.Headers.Set(HeaderCSeq, "3")
	resp.Body = []byte("abc")

	var buf bytes.Buffer
	if err := WriteResponse(&buf, resp); err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "RTSP/1.0 200 OK\r\n") {
		t.Fatalf("unexpected status line: %q", out)
	}
	if !strings.Contains(out, "Content-Length: 3\r\n") {
		t.Fatalf("missing content length: %q", out)
	}
	if !strings.HasSuffix(out, "abc") {
		t.Fatalf("missing body: %q", out)
	}
}

func TestReadRequestRejectsMalformedLine(t *testing.T) {
	_, err := ReadRequest(bufio.NewReader(strings.NewReader("GARBAGE\r\n\r\n")))
	if err == nil {
		t.Fatal("expected error for malformed request line")
	}
}

func TestFormatRTPInfo(t *testing.T) {
	got := FormatRTPInfo("rtsp://h/live/trackID=0", 10, 900)
	want := "url=rtsp://h/live/trackID=0;seq=10;rtptime=900"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
