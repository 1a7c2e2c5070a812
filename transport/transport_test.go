package transport

import (
	"testing"
	"time"
)

func TestSendRecvACK(t *testing.T) {
	a, err := Bind("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := Bind("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	done := make(chan struct{})
	go func() {
		payload, _, err := b.Recv(2*time.Second, TagRUN, 0)
		if err != nil {
			t.Errorf("recv: %v", err)
		}
		if payload != "RUN -r3" {
			t.Errorf("got payload %q", payload)
		}
		close(done)
	}()

	reply, err := a.Send(2*time.Second, "RUN -r3", b.conn.LocalAddr().String(), TagACK, 0)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply != TagACK {
		t.Errorf("expected ACK, got %q", reply)
	}
	<-done
}

func TestSendRecvNAK(t *testing.T) {
	a, err := Bind("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := Bind("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	done := make(chan struct{})
	go func() {
		b.Recv(2*time.Second, TagROT, 0)
		close(done)
	}()

	_, err = a.Send(2*time.Second, "RUN -r3", b.conn.LocalAddr().String(), TagACK, 0)
	if err != ErrUnexpectedReply {
		t.Fatalf("expected ErrUnexpectedReply, got %v", err)
	}
	<-done
}

func TestSendTimeout(t *testing.T) {
	a, err := Bind("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := Bind("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	_, err = a.Send(100*time.Millisecond, "RUN -r3", b.conn.LocalAddr().String(), TagACK, 0)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}
