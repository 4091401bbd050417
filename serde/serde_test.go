//go:build unit

package serde_test

import (
	"errors"
	"testing"

	"github.com/hugolhafner/extoffset/serde"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type order struct {
	ID     string `json:"id"`
	Amount int    `json:"amount"`
}

func TestString(t *testing.T) {
	t.Parallel()
	v, err := serde.String().Deserialise("orders", []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, "hello", v)

	v, err = serde.String().Deserialise("orders", nil)
	require.NoError(t, err)
	require.Empty(t, v)
}

func TestBytes(t *testing.T) {
	t.Parallel()
	v, err := serde.Bytes().Deserialise("orders", []byte{1, 2})
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2}, v)

	v, err = serde.Bytes().Deserialise("orders", nil)
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestJSON(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		input   []byte
		want    order
		wantErr bool
	}{
		{name: "object", input: []byte(`{"id":"o-1","amount":3}`), want: order{ID: "o-1", Amount: 3}},
		{name: "unknown fields ignored", input: []byte(`{"id":"o-2","extra":true}`), want: order{ID: "o-2"}},
		{name: "malformed", input: []byte(`{"id":`), wantErr: true},
		{name: "empty", input: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				t.Parallel()
				got, err := serde.JSON[order]().Deserialise("orders", tt.input)
				if tt.wantErr {
					require.Error(t, err)
					return
				}
				require.NoError(t, err)
				require.Equal(t, tt.want, got)
			},
		)
	}
}

func TestProtobuf(t *testing.T) {
	t.Parallel()
	data, err := proto.Marshal(wrapperspb.String("hello"))
	require.NoError(t, err)

	got, err := serde.Protobuf[*wrapperspb.StringValue]().Deserialise("orders", data)
	require.NoError(t, err)
	require.Equal(t, "hello", got.GetValue())

	_, err = serde.Protobuf[*wrapperspb.StringValue]().Deserialise("orders", []byte{0xff, 0xff})
	require.Error(t, err)
}

func TestDecode_WrapsFailures(t *testing.T) {
	t.Parallel()
	_, err := serde.Decode(serde.JSON[order](), "orders", serde.FieldValue, []byte("nope"))
	require.ErrorIs(t, err, serde.ErrDeserialise)

	var serr *serde.Error
	require.True(t, errors.As(err, &serr))
	require.Equal(t, "orders", serr.Topic)
	require.Equal(t, serde.FieldValue, serr.Field)
	require.Contains(t, err.Error(), "deserialise value from orders")

	v, err := serde.Decode(serde.String(), "orders", serde.FieldKey, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, "k", v)
}
