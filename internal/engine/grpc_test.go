package engine

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xela07ax/trustgate/internal/domain"
	"github.com/xela07ax/trustgate/internal/infra/auth"
)

func TestGRPCGateway(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	env := newTestEnv(t, proxy("10.0.0.1", 8080, "eu"))

	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryAuthInterceptor(auth.NewBaseValidator(&key.PublicKey, auth.DefaultIssuer), zap.NewNop())))
	RegisterGatewayServer(srv, NewGRPCGatewayServer(env.core))
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	client := NewGatewayClient(conn)

	issuer := auth.NewTokenIssuer(key, auth.DefaultIssuer, time.Hour)
	withToken := func(perms ...string) context.Context {
		tok, err := issuer.Issue(&domain.User{ID: "svc", Role: "service", Permissions: perms})
		require.NoError(t, err)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		t.Cleanup(cancel)
		return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tok.AccessToken)
	}

	req, err := structpb.NewStruct(map[string]interface{}{"client_id": "c1", "filter": map[string]interface{}{"region": "eu"}})
	require.NoError(t, err)

	_, err = client.AssignResource(context.Background(), req)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = client.AssignResource(withToken(PermValidate), req)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	out, err := client.AssignResource(withToken(PermLease), req)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", out.GetFields()["host"].GetStringValue())

	miss, _ := structpb.NewStruct(map[string]interface{}{"client_id": "c2", "filter": map[string]interface{}{"region": "us"}})
	_, err = client.AssignResource(withToken(PermLease), miss)
	assert.Equal(t, codes.NotFound, status.Code(err))

	rel, _ := structpb.NewStruct(map[string]interface{}{"client_id": "c1"})
	out, err = client.ReleaseResource(withToken(PermLease), rel)
	require.NoError(t, err)
	assert.True(t, out.GetFields()["released"].GetBoolValue())

	_, err = client.ReleaseResource(withToken(PermLease), &structpb.Struct{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	val, _ := structpb.NewStruct(map[string]interface{}{"client_id": "c1", "subject": "alice@example.com"})
	out, err = client.Validate(withToken(PermValidate), val)
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusCompleted), out.GetFields()["status"].GetStringValue())
}
