package transport

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quorumkv/replicakv/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingArgs struct {
	SenderID int `json:"sender_id"`
}

type pingReply struct {
	ReceiverID int    `json:"receiver_id"`
	Message    string `json:"message"`
}

type pingService struct{ receiverID int }

func (p *pingService) Ping(r *http.Request, args *pingArgs, reply *pingReply) error {
	reply.ReceiverID = p.receiverID
	reply.Message = "pong"
	return nil
}

func newTestServer(t *testing.T, filter *Filter, receiverID int) *httptest.Server {
	t.Helper()
	srv := NewServer(filter, nil)
	require.NoError(t, srv.RegisterService(&pingService{receiverID: receiverID}, "Ping"))

	mux := http.NewServeMux()
	mux.Handle("/rpc", srv.partitionGate(srv.rpcServer))
	return httptest.NewServer(mux)
}

func TestServer_RoundTrip(t *testing.T) {
	filter := NewFilter()
	ts := newTestServer(t, filter, 7)
	defer ts.Close()

	client := NewClient(ts.Client())
	addr := ts.Listener.Addr().String()

	var reply pingReply
	err := client.Call(context.Background(), addr, "Ping.Ping", &pingArgs{SenderID: 1}, &reply)
	require.NoError(t, err)
	assert.Equal(t, 7, reply.ReceiverID)
	assert.Equal(t, "pong", reply.Message)
}

func TestServer_RejectsBlockedSourceIP(t *testing.T) {
	filter := NewFilter()
	ts := newTestServer(t, filter, 7)
	defer ts.Close()

	filter.Set(nil, []string{"127.0.0.1"})

	client := NewClient(ts.Client())
	addr := ts.Listener.Addr().String()

	var reply pingReply
	err := client.Call(context.Background(), addr, "Ping.Ping", &pingArgs{SenderID: 1}, &reply)
	require.Error(t, err)
}

func TestPeerSender_SendRespectsOutboundFilter(t *testing.T) {
	filter := NewFilter()
	ts := newTestServer(t, filter, 7)
	defer ts.Close()

	peer := config.ReplicaDescriptor{ID: 2, IP: ts.Listener.Addr().(*net.TCPAddr).IP.String(), Port: ts.Listener.Addr().(*net.TCPAddr).Port}

	client := NewClient(ts.Client())
	sender := NewPeerSender(client, peer, filter, time.Second)

	var reply pingReply
	ok := sender.Send(context.Background(), "Ping.Ping", &pingArgs{SenderID: 1}, &reply)
	assert.True(t, ok)
	assert.Equal(t, 7, reply.ReceiverID)

	filter.Set([]int{2}, nil)
	ok = sender.Send(context.Background(), "Ping.Ping", &pingArgs{SenderID: 1}, &reply)
	assert.False(t, ok)
}
