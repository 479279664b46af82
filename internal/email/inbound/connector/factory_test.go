package connector

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultFactoryResolvesProtocols(t *testing.T) {
	f := DefaultFactory()

	cases := map[string]string{
		"pop3":    "pop3",
		"POP3S":   "pop3",
		"imap":    "imap",
		" imaps ": "imap",
	}
	for protocol, want := range cases {
		fetcher, err := f.FetcherFor(Account{Protocol: protocol})
		require.NoError(t, err, protocol)
		require.Equal(t, want, fetcher.Name(), protocol)
	}

	_, err := f.FetcherFor(Account{Protocol: "graph"})
	require.Error(t, err)
}

func TestFactoryCustomRegistration(t *testing.T) {
	custom := NewPOP3Fetcher()
	f := NewFactory(WithFetcher(custom, "exotic"))

	fetcher, err := f.FetcherFor(Account{Protocol: "EXOTIC"})
	require.NoError(t, err)
	require.Same(t, custom, fetcher.(*POP3Fetcher))

	_, err = f.FetcherFor(Account{Protocol: "pop3"})
	require.Error(t, err)
}
