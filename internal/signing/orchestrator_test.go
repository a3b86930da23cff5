package signing

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yolodolo42/safesign/internal/discovery"
	"github.com/yolodolo42/safesign/internal/safe"
	"github.com/yolodolo42/safesign/internal/session"
	"github.com/yolodolo42/safesign/internal/wallet"
)

const ownerKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	ownerAddr = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	otherAddr = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	safeOne   = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	safeTwo   = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
)

type discoverFunc func(ctx context.Context, owner string) ([]common.Address, error)

func (f discoverFunc) DiscoverAccounts(ctx context.Context, owner string) ([]common.Address, error) {
	return f(ctx, owner)
}

func staticDiscoverer(safes ...common.Address) discoverFunc {
	return func(ctx context.Context, owner string) ([]common.Address, error) {
		return safes, nil
	}
}

// countingStrategy records invocations and optionally blocks until released.
type countingStrategy struct {
	kind    Kind
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
	err     error
	panic   any
}

func (s *countingStrategy) Kind() Kind { return s.kind }

func (s *countingStrategy) Sign(ctx context.Context, h *session.Handle, req Request) (Result, error) {
	s.calls.Add(1)
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}
	if s.panic != nil {
		panic(s.panic)
	}
	if s.err != nil {
		return Result{}, s.err
	}
	return Result{Kind: s.kind, Signer: h.Signer.Address(), Signature: []byte{0x01}}, nil
}

func ownerSigner(t *testing.T) *wallet.KeySigner {
	t.Helper()
	s, err := wallet.NewKeySignerFromHex(ownerKey)
	require.NoError(t, err)
	return s
}

func connected(id string, signer wallet.Signer, tr *fakeSafeChain) session.Session {
	s := session.Session{
		ID:      id,
		Status:  session.Connected,
		Address: signer.Address(),
		Handle:  &session.Handle{Signer: signer, Chain: "gnosis", ChainID: big.NewInt(100)},
	}
	if tr != nil {
		s.Handle.Transport = tr
	}
	return s
}

func waitReady(t *testing.T, o *Orchestrator) View {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := o.WaitAccounts(ctx)
	require.NoError(t, err)
	return v
}

func newOrchestrator(t *testing.T, opts Options) *Orchestrator {
	t.Helper()
	o, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(o.Close)
	return o
}

func TestNew_RequiresDiscoverer(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestOrchestrator_DiscoveryOutcomes(t *testing.T) {
	signer := ownerSigner(t)

	t.Run("safes in registry order", func(t *testing.T) {
		o := newOrchestrator(t, Options{Discoverer: staticDiscoverer(safeTwo, safeOne)})
		assert.Equal(t, Idle, o.View().State)

		o.OnSession(connected("s1", signer, nil))
		v := waitReady(t, o)

		assert.Equal(t, AccountsReady, v.State)
		assert.Equal(t, []common.Address{safeTwo, safeOne}, v.Accounts)
		assert.False(t, v.NoAccounts)
		assert.Empty(t, v.DiscoveryErr)
		assert.Equal(t, ownerAddr, v.Address)
		assert.True(t, v.Selection.IsZero())
	})

	t.Run("empty set is informational", func(t *testing.T) {
		o := newOrchestrator(t, Options{Discoverer: staticDiscoverer()})
		o.OnSession(connected("s1", signer, nil))
		v := waitReady(t, o)

		assert.Equal(t, AccountsReady, v.State)
		assert.True(t, v.NoAccounts)
		assert.Empty(t, v.DiscoveryErr)
		assert.Empty(t, v.Accounts)
		require.NoError(t, o.SelectDirect())
	})

	t.Run("registry error surfaces as unavailable", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			assert.Equal(t, "/api/v1/owners/"+ownerAddr.Hex()+"/safes/", r.URL.Path)
			w.WriteHeader(http.StatusBadGateway)
		}))
		t.Cleanup(srv.Close)

		svc, err := discovery.NewService(srv.URL)
		require.NoError(t, err)

		o := newOrchestrator(t, Options{Discoverer: svc})
		o.OnSession(connected("s1", signer, nil))
		v := waitReady(t, o)

		assert.Equal(t, AccountsReady, v.State)
		assert.Empty(t, v.Accounts)
		assert.False(t, v.NoAccounts)
		assert.Contains(t, v.DiscoveryErr, discovery.ErrDiscoveryUnavailable.Error())
		assert.EqualValues(t, 1, hits.Load())
	})
}

func TestOrchestrator_SelectRules(t *testing.T) {
	signer := ownerSigner(t)

	t.Run("before discovery", func(t *testing.T) {
		o := newOrchestrator(t, Options{Discoverer: staticDiscoverer()})
		assert.ErrorIs(t, o.SelectDirect(), ErrNotConnected)
		_, err := o.Sign(context.Background())
		assert.ErrorIs(t, err, ErrNotConnected)
	})

	t.Run("unknown safe is rejected", func(t *testing.T) {
		o := newOrchestrator(t, Options{Discoverer: staticDiscoverer(safeOne)})
		o.OnSession(connected("s1", signer, nil))
		waitReady(t, o)

		err := o.SelectSafe(safeTwo)
		assert.ErrorIs(t, err, ErrUnknownAccount)
		assert.Equal(t, AccountsReady, o.View().State)

		require.NoError(t, o.SelectSafe(safeOne))
		v := o.View()
		assert.Equal(t, AccountSelected, v.State)
		assert.Equal(t, Selection{Kind: KindSafe, Safe: safeOne}, v.Selection)
	})

	t.Run("sign needs a selection", func(t *testing.T) {
		o := newOrchestrator(t, Options{Discoverer: staticDiscoverer(safeOne)})
		o.OnSession(connected("s1", signer, nil))
		waitReady(t, o)

		_, err := o.Sign(context.Background())
		assert.ErrorIs(t, err, ErrNoSelection)
	})

	t.Run("safe mode rejects direct", func(t *testing.T) {
		o := newOrchestrator(t, Options{Discoverer: staticDiscoverer(safeOne), Mode: ModeSafe})
		o.OnSession(connected("s1", signer, nil))
		v := waitReady(t, o)

		assert.False(t, v.CanSignDirect())
		assert.ErrorIs(t, o.SelectDirect(), ErrDirectNotAllowed)
		require.NoError(t, o.SelectSafe(safeOne))
	})

	t.Run("direct mode rejects safes but reports them", func(t *testing.T) {
		o := newOrchestrator(t, Options{Discoverer: staticDiscoverer(safeOne), Mode: ModeDirect})
		o.OnSession(connected("s1", signer, nil))
		v := waitReady(t, o)

		assert.Equal(t, []common.Address{safeOne}, v.Accounts)
		assert.ErrorIs(t, o.SelectSafe(safeOne), ErrSafeNotAllowed)
		require.NoError(t, o.SelectDirect())
	})
}

func TestOrchestrator_DisconnectClearsState(t *testing.T) {
	signer := ownerSigner(t)
	o := newOrchestrator(t, Options{Discoverer: staticDiscoverer(safeOne)})

	o.OnSession(connected("s1", signer, nil))
	waitReady(t, o)
	require.NoError(t, o.SelectDirect())
	_, err := o.Sign(context.Background())
	require.NoError(t, err)
	require.NotNil(t, o.View().Result)

	o.OnSession(session.Session{Status: session.Disconnected})

	v := o.View()
	assert.Equal(t, Idle, v.State)
	assert.Empty(t, v.SessionID)
	assert.Equal(t, common.Address{}, v.Address)
	assert.Nil(t, v.Accounts)
	assert.False(t, v.NoAccounts)
	assert.True(t, v.Selection.IsZero())
	assert.Nil(t, v.Result)
	assert.Empty(t, v.Err)

	assert.ErrorIs(t, o.SelectSafe(safeOne), ErrNotConnected)
}

func TestOrchestrator_AttachFollowsProvider(t *testing.T) {
	p, err := session.NewProvider(session.Config{
		Chain:     "gnosis",
		ChainID:   big.NewInt(100),
		Transport: newFakeSafeChain(ownerAddr),
		Connectors: []session.Connector{&session.EnvConnector{Lookup: func(string) (string, bool) {
			return ownerKey, true
		}}},
	})
	require.NoError(t, err)

	o := newOrchestrator(t, Options{Discoverer: staticDiscoverer(safeOne)})
	o.Attach(p)
	assert.Equal(t, Idle, o.View().State)

	s, err := p.Connect(context.Background(), session.ConnectorEnv)
	require.NoError(t, err)
	v := waitReady(t, o)
	assert.Equal(t, s.ID, v.SessionID)
	assert.Equal(t, []common.Address{safeOne}, v.Accounts)

	p.Disconnect()
	assert.Equal(t, Idle, o.View().State)

	o.Close()
	_, err = p.Connect(context.Background(), session.ConnectorEnv)
	require.NoError(t, err)
	assert.Equal(t, Idle, o.View().State)
}

func TestOrchestrator_ConcurrentSignInvokesOnce(t *testing.T) {
	signer := ownerSigner(t)
	strategy := &countingStrategy{kind: KindDirect, entered: make(chan struct{}, 1), release: make(chan struct{})}
	o := newOrchestrator(t, Options{Discoverer: staticDiscoverer(), Direct: strategy})

	o.OnSession(connected("s1", signer, nil))
	waitReady(t, o)
	require.NoError(t, o.SelectDirect())

	done := make(chan error, 1)
	go func() {
		_, err := o.Sign(context.Background())
		done <- err
	}()
	<-strategy.entered
	assert.Equal(t, Signing, o.View().State)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Sign(context.Background())
			assert.ErrorIs(t, err, ErrSignInProgress)
		}()
	}
	wg.Wait()
	assert.ErrorIs(t, o.SelectDirect(), ErrSignInProgress)

	close(strategy.release)
	require.NoError(t, <-done)
	assert.EqualValues(t, 1, strategy.calls.Load())
	assert.Equal(t, Signed, o.View().State)
}

func TestOrchestrator_SignFailures(t *testing.T) {
	signer := ownerSigner(t)

	t.Run("strategy error becomes SignFailed", func(t *testing.T) {
		strategy := &countingStrategy{kind: KindDirect, err: errors.New("user rejected the request")}
		o := newOrchestrator(t, Options{Discoverer: staticDiscoverer(), Direct: strategy})
		o.OnSession(connected("s1", signer, nil))
		waitReady(t, o)
		require.NoError(t, o.SelectDirect())

		_, err := o.Sign(context.Background())
		var signErr *SignError
		require.ErrorAs(t, err, &signErr)
		assert.Equal(t, "user rejected the request", signErr.Reason)

		v := o.View()
		assert.Equal(t, SignFailed, v.State)
		assert.Contains(t, v.Err, "user rejected the request")
		assert.Nil(t, v.Result)

		// Retry from SignFailed is allowed.
		strategy.err = nil
		res, err := o.Sign(context.Background())
		require.NoError(t, err)
		assert.Equal(t, KindDirect, res.Kind)
		assert.Equal(t, Signed, o.View().State)
		assert.Empty(t, o.View().Err)
	})

	t.Run("panic is recovered", func(t *testing.T) {
		strategy := &countingStrategy{kind: KindDirect, panic: "boom"}
		o := newOrchestrator(t, Options{Discoverer: staticDiscoverer(), Direct: strategy})
		o.OnSession(connected("s1", signer, nil))
		waitReady(t, o)
		require.NoError(t, o.SelectDirect())

		var res Result
		var err error
		require.NotPanics(t, func() { res, err = o.Sign(context.Background()) })
		assert.Equal(t, Result{}, res)

		var signErr *SignError
		require.ErrorAs(t, err, &signErr)
		assert.Contains(t, signErr.Reason, "boom")
		assert.Equal(t, SignFailed, o.View().State)
	})

	t.Run("missing signer fails without calling strategy", func(t *testing.T) {
		strategy := &countingStrategy{kind: KindDirect}
		o := newOrchestrator(t, Options{Discoverer: staticDiscoverer(), Direct: strategy})
		o.OnSession(session.Session{ID: "s1", Status: session.Connected, Address: ownerAddr})
		waitReady(t, o)
		require.NoError(t, o.SelectDirect())

		_, err := o.Sign(context.Background())
		assert.ErrorIs(t, err, ErrSignerUnavailable)
		assert.Zero(t, strategy.calls.Load())
		assert.Equal(t, SignFailed, o.View().State)
	})
}

func TestOrchestrator_StaleResultsDiscarded(t *testing.T) {
	t.Run("discovery for a replaced address", func(t *testing.T) {
		gate := make(chan struct{})
		var oldCtxErr atomic.Value
		disc := discoverFunc(func(ctx context.Context, owner string) ([]common.Address, error) {
			if owner == ownerAddr.Hex() {
				<-gate
				if ctx.Err() != nil {
					oldCtxErr.Store(ctx.Err())
				}
				return []common.Address{safeOne}, nil
			}
			return []common.Address{safeTwo}, nil
		})
		o := newOrchestrator(t, Options{Discoverer: disc})

		o.OnSession(session.Session{ID: "a", Status: session.Connected, Address: ownerAddr})
		o.OnSession(session.Session{ID: "b", Status: session.Connected, Address: otherAddr})
		v := waitReady(t, o)
		assert.Equal(t, []common.Address{safeTwo}, v.Accounts)

		close(gate)
		assert.Eventually(t, func() bool { return oldCtxErr.Load() != nil }, time.Second, 5*time.Millisecond)
		assert.Never(t, func() bool {
			got := o.View()
			return got.Address != otherAddr || len(got.Accounts) != 1 || got.Accounts[0] != safeTwo
		}, 100*time.Millisecond, 10*time.Millisecond)
	})

	t.Run("disconnect during discovery", func(t *testing.T) {
		gate := make(chan struct{})
		disc := discoverFunc(func(ctx context.Context, owner string) ([]common.Address, error) {
			<-gate
			return []common.Address{safeOne}, nil
		})
		o := newOrchestrator(t, Options{Discoverer: disc})

		o.OnSession(session.Session{ID: "a", Status: session.Connected, Address: ownerAddr})
		assert.Equal(t, Connected, o.View().State)
		o.OnSession(session.Session{Status: session.Disconnected})

		// Waiters are released by the reset.
		v := waitReady(t, o)
		assert.Equal(t, Idle, v.State)

		close(gate)
		assert.Never(t, func() bool { return o.View().State != Idle }, 100*time.Millisecond, 10*time.Millisecond)
	})

	t.Run("sign across a disconnect", func(t *testing.T) {
		signer := ownerSigner(t)
		strategy := &countingStrategy{kind: KindDirect, entered: make(chan struct{}, 1), release: make(chan struct{})}
		o := newOrchestrator(t, Options{Discoverer: staticDiscoverer(), Direct: strategy})
		o.OnSession(connected("s1", signer, nil))
		waitReady(t, o)
		require.NoError(t, o.SelectDirect())

		done := make(chan error, 1)
		go func() {
			_, err := o.Sign(context.Background())
			done <- err
		}()
		<-strategy.entered

		o.OnSession(session.Session{Status: session.Disconnected})
		close(strategy.release)

		assert.ErrorIs(t, <-done, ErrStaleSession)
		v := o.View()
		assert.Equal(t, Idle, v.State)
		assert.Nil(t, v.Result)
	})
}

func TestOrchestrator_WaitAccountsHonoursContext(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	o := newOrchestrator(t, Options{Discoverer: discoverFunc(func(ctx context.Context, owner string) ([]common.Address, error) {
		<-block
		return nil, nil
	})})
	o.OnSession(session.Session{ID: "a", Status: session.Connected, Address: ownerAddr})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	v, err := o.WaitAccounts(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Connected, v.State)
}

func TestOrchestrator_DirectSignature(t *testing.T) {
	signer := ownerSigner(t)
	o := newOrchestrator(t, Options{Discoverer: staticDiscoverer(safeOne)})
	o.OnSession(connected("s1", signer, nil))
	waitReady(t, o)
	require.NoError(t, o.SelectDirect())

	before := time.Now().Unix()
	res, err := o.Sign(context.Background())
	require.NoError(t, err)

	assert.Equal(t, KindDirect, res.Kind)
	assert.Equal(t, ownerAddr, res.Signer)
	assert.Len(t, res.Signature, 65)
	assert.Nil(t, res.Safe)
	assert.Nil(t, res.SafeMessage)
	assert.InDelta(t, before, res.Timestamp, 5)

	td := BuildRequest(DefaultTemplate(), time.Unix(res.Timestamp, 0)).TypedData()
	recovered, err := wallet.RecoverTypedDataSigner(td, res.Signature)
	require.NoError(t, err)
	assert.Equal(t, ownerAddr, recovered)

	v := o.View()
	assert.Equal(t, Signed, v.State)
	require.NotNil(t, v.Result)
	assert.Equal(t, res.Signature, v.Result.Signature)
}

func TestOrchestrator_SafeSignature(t *testing.T) {
	signer := ownerSigner(t)

	for _, payload := range []PayloadMode{PayloadTyped, PayloadText} {
		t.Run(string(payload), func(t *testing.T) {
			chain := newFakeSafeChain(otherAddr, ownerAddr)
			o := newOrchestrator(t, Options{Discoverer: staticDiscoverer(safeOne), SafePayload: payload})
			o.OnSession(connected("s1", signer, chain))
			waitReady(t, o)
			require.NoError(t, o.SelectSafe(safeOne))

			before := time.Now().Unix()
			res, err := o.Sign(context.Background())
			require.NoError(t, err)

			assert.Equal(t, KindSafe, res.Kind)
			require.NotNil(t, res.Safe)
			assert.Equal(t, safeOne, *res.Safe)
			require.NotNil(t, res.SafeMessage)
			require.NotNil(t, res.SafeMessageHash)
			assert.Len(t, res.Signature, 65)
			assert.InDelta(t, before, res.Timestamp, 5)

			if payload == PayloadText {
				require.NotNil(t, res.SafeMessage.Text)
				assert.Equal(t, "hello world", *res.SafeMessage.Text)
			} else {
				require.NotNil(t, res.SafeMessage.Typed)
				assert.Equal(t, "Message", res.SafeMessage.Typed.PrimaryType)
			}

			envelope, err := safe.SafeMessageTypedData(big.NewInt(100), safeOne, "1.3.0", res.SafeMessage)
			require.NoError(t, err)
			recovered, err := wallet.RecoverTypedDataSigner(envelope, res.Signature)
			require.NoError(t, err)
			assert.Equal(t, ownerAddr, recovered)

			raw, err := json.Marshal(res)
			require.NoError(t, err)
			var decoded Result
			require.NoError(t, json.Unmarshal(raw, &decoded))
			require.NotNil(t, decoded.SafeMessage)
			decodedEnvelope, err := safe.SafeMessageTypedData(big.NewInt(100), safeOne, "1.3.0", decoded.SafeMessage)
			require.NoError(t, err)
			recovered, err = wallet.RecoverTypedDataSigner(decodedEnvelope, decoded.Signature)
			require.NoError(t, err)
			assert.Equal(t, ownerAddr, recovered)
		})
	}

	t.Run("non-owner fails", func(t *testing.T) {
		chain := newFakeSafeChain(otherAddr)
		o := newOrchestrator(t, Options{Discoverer: staticDiscoverer(safeOne)})
		o.OnSession(connected("s1", signer, chain))
		waitReady(t, o)
		require.NoError(t, o.SelectSafe(safeOne))

		_, err := o.Sign(context.Background())
		var signErr *SignError
		require.ErrorAs(t, err, &signErr)
		assert.ErrorIs(t, err, safe.ErrNotOwner)
		assert.Equal(t, SignFailed, o.View().State)
	})

	t.Run("missing transport fails safe init", func(t *testing.T) {
		o := newOrchestrator(t, Options{Discoverer: staticDiscoverer(safeOne)})
		o.OnSession(connected("s1", signer, nil))
		waitReady(t, o)
		require.NoError(t, o.SelectSafe(safeOne))

		_, err := o.Sign(context.Background())
		assert.ErrorIs(t, err, safe.ErrInvalidConfig)
	})
}

const fakeSafeABI = `[
	{"type":"function","name":"VERSION","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"getOwners","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]}
]`

// fakeSafeChain answers the reads a Safe client makes against one deployed Safe.
type fakeSafeChain struct {
	abi    abi.ABI
	owners []common.Address
}

func newFakeSafeChain(owners ...common.Address) *fakeSafeChain {
	parsed, err := abi.JSON(strings.NewReader(fakeSafeABI))
	if err != nil {
		panic(err)
	}
	return &fakeSafeChain{abi: parsed, owners: owners}
}

func (f *fakeSafeChain) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(100), nil
}

func (f *fakeSafeChain) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

func (f *fakeSafeChain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	method, err := f.abi.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "VERSION":
		return method.Outputs.Pack("1.3.0")
	case "getOwners":
		return method.Outputs.Pack(f.owners)
	}
	return nil, errors.New("unexpected call " + method.Name)
}
