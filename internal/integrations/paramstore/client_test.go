package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

type fakeSSM struct {
	out     *ssm.GetParameterOutput
	err     error
	gotName string
	gotDecr bool
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	if in.Name != nil {
		f.gotName = *in.Name
	}
	if in.WithDecryption != nil {
		f.gotDecr = *in.WithDecryption
	}
	return f.out, f.err
}

func paramOutput(value string) *ssm.GetParameterOutput {
	return &ssm.GetParameterOutput{
		Parameter: &types.Parameter{Value: &value},
	}
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestGetParameter_HappyPath(t *testing.T) {
	api := &fakeSSM{out: paramOutput("secret-value")}
	c, err := New(api)
	require.NoError(t, err)

	v, err := c.GetParameter(context.Background(), " /farm-advisor/provider-token ")
	require.NoError(t, err)
	require.Equal(t, "secret-value", v)
	require.Equal(t, "/farm-advisor/provider-token", api.gotName)
	require.True(t, api.gotDecr, "secrets must be requested with decryption")
}

func TestGetParameter_EmptyName(t *testing.T) {
	c, err := New(&fakeSSM{})
	require.NoError(t, err)
	_, err = c.GetParameter(context.Background(), "  ")
	require.Error(t, err)
}

func TestGetParameter_NotFoundIsTyped(t *testing.T) {
	api := &fakeSSM{err: &types.ParameterNotFound{}}
	c, err := New(api)
	require.NoError(t, err)

	_, err = c.GetParameter(context.Background(), "/farm-advisor/missing")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	require.True(t, nf.NotFound())
	require.Contains(t, nf.Error(), "/farm-advisor/missing")
}

func TestGetParameter_TransportError(t *testing.T) {
	api := &fakeSSM{err: errors.New("throttled")}
	c, err := New(api)
	require.NoError(t, err)

	_, err = c.GetParameter(context.Background(), "/farm-advisor/provider-token")
	require.Error(t, err)
	var nf *NotFoundError
	require.False(t, errors.As(err, &nf))
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeSSM{out: &ssm.GetParameterOutput{}}
	c, err := New(api)
	require.NoError(t, err)

	_, err = c.GetParameter(context.Background(), "/farm-advisor/provider-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing value")
}
