package trade

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/escrow-tf/steamtrade/api/tradesession"
	"github.com/escrow-tf/steamtrade/asset"
	"github.com/escrow-tf/steamtrade/retry"
	"github.com/escrow-tf/steamtrade/steamid"
)

type stubApi struct {
	mu sync.Mutex

	statusQueue []*tradesession.StateResponse
	statusErr   error

	addErr     error
	removeErr  error
	readyErr   error
	confirmErr error
	cancelErr  error
	chatErr    error

	addCalls     int
	removeCalls  int
	readyCalls   int
	confirmCalls int
	cancelCalls  int
	chatCalls    int

	tradePage string
}

func okState() *tradesession.StateResponse {
	return &tradesession.StateResponse{Success: true}
}

func (s *stubApi) GetStatus(ctx context.Context, version uint64, logPos int) (*tradesession.StateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusErr != nil {
		return nil, s.statusErr
	}
	if len(s.statusQueue) == 0 {
		return okState(), nil
	}
	response := s.statusQueue[0]
	s.statusQueue = s.statusQueue[1:]
	return response, nil
}

func (s *stubApi) AddItem(ctx context.Context, item asset.Asset, slot int) (*tradesession.StateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addCalls++
	if s.addErr != nil {
		return nil, s.addErr
	}
	return okState(), nil
}

func (s *stubApi) RemoveItem(ctx context.Context, item asset.Asset, slot int) (*tradesession.StateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeCalls++
	if s.removeErr != nil {
		return nil, s.removeErr
	}
	return okState(), nil
}

func (s *stubApi) SetReady(ctx context.Context, version uint64, ready bool) (*tradesession.StateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readyCalls++
	if s.readyErr != nil {
		return nil, s.readyErr
	}
	return okState(), nil
}

func (s *stubApi) Confirm(ctx context.Context, version uint64, logPos int) (*tradesession.StateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmCalls++
	if s.confirmErr != nil {
		return nil, s.confirmErr
	}
	return okState(), nil
}

func (s *stubApi) Cancel(ctx context.Context) (*tradesession.StateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelCalls++
	if s.cancelErr != nil {
		return nil, s.cancelErr
	}
	return okState(), nil
}

func (s *stubApi) Chat(ctx context.Context, message string, version uint64, logPos int) (*tradesession.StateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatCalls++
	if s.chatErr != nil {
		return nil, s.chatErr
	}
	return okState(), nil
}

func (s *stubApi) GetForeignInventory(ctx context.Context, appId uint64, contextId string) (*tradesession.ForeignInventoryResponse, error) {
	return &tradesession.ForeignInventoryResponse{Success: true}, nil
}

func (s *stubApi) GetTradePage(ctx context.Context) (string, error) {
	return s.tradePage, nil
}

var testPartner = steamid.FromAccountId(22202)

func newTestSession(api *stubApi) *Session {
	return NewSession(api, Options{
		Partner:     testPartner,
		RetryPolicy: retry.Policy{Attempts: 1, Delay: time.Millisecond},
	})
}

func testAsset(assetId uint64) asset.Asset {
	return asset.Asset{AppId: 440, ContextId: "2", AssetId: assetId, Amount: 1}
}

func partnerAsset(assetId uint64) tradesession.PartyAsset {
	return tradesession.PartyAsset{AppId: 440, ContextId: "2", AssetId: assetId, Amount: 1}
}

func TestAddItemConfirmsOfferedSet(t *testing.T) {
	api := &stubApi{}
	session := newTestSession(api)

	if err := session.AddItem(context.Background(), testAsset(100)); err != nil {
		t.Fatal(err)
	}

	offered := session.MyOfferedItems()
	if len(offered) != 1 || offered[0].AssetId != 100 {
		t.Errorf("offered=%v, expected [100]", offered)
	}

	if !session.VerifyTradeItems() {
		t.Error("VerifyTradeItems()=false after confirmed add")
	}
}

func TestAddItemDuplicateAssetFails(t *testing.T) {
	api := &stubApi{}
	session := newTestSession(api)

	if err := session.AddItem(context.Background(), testAsset(100)); err != nil {
		t.Fatal(err)
	}

	err := session.AddItem(context.Background(), testAsset(100))
	if !errors.Is(err, ErrItemAlreadyAdded) {
		t.Errorf("err=%v, expected ErrItemAlreadyAdded", err)
	}

	if api.addCalls != 1 {
		t.Errorf("addCalls=%d, expected 1", api.addCalls)
	}
}

func TestAddItemFailureReleasesSlot(t *testing.T) {
	api := &stubApi{addErr: errors.New("boom")}
	session := newTestSession(api)

	if err := session.AddItem(context.Background(), testAsset(100)); err == nil {
		t.Fatal("expected error, got none")
	}

	if session.consecutiveFailures != 1 {
		t.Errorf("consecutiveFailures=%d, expected 1", session.consecutiveFailures)
	}

	// the reservation must be gone, so the same asset can be re-added
	api.mu.Lock()
	api.addErr = nil
	api.mu.Unlock()
	if err := session.AddItem(context.Background(), testAsset(100)); err != nil {
		t.Errorf("re-add after rollback failed: %v", err)
	}
}

func TestRemoveItemRequiresPendingAsset(t *testing.T) {
	api := &stubApi{}
	session := newTestSession(api)

	err := session.RemoveItem(context.Background(), testAsset(5))
	if !errors.Is(err, ErrItemNotAdded) {
		t.Errorf("err=%v, expected ErrItemNotAdded", err)
	}

	if api.removeCalls != 0 {
		t.Errorf("removeCalls=%d, expected 0", api.removeCalls)
	}
}

func TestVerifyTradeItemsIgnoresOrder(t *testing.T) {
	api := &stubApi{}
	session := newTestSession(api)

	for _, id := range []uint64{1, 2, 3} {
		if err := session.AddItem(context.Background(), testAsset(id)); err != nil {
			t.Fatal(err)
		}
	}

	// reorder the confirmed list; identity comparison must not care
	session.myItemsMu.Lock()
	session.myOffered = []asset.Asset{testAsset(3), testAsset(1), testAsset(2)}
	session.myItemsMu.Unlock()

	if !session.VerifyTradeItems() {
		t.Error("VerifyTradeItems()=false for reordered identical sets")
	}

	// server-side drift must fail verification
	session.myItemsMu.Lock()
	session.myOffered = []asset.Asset{testAsset(3), testAsset(1), testAsset(9)}
	session.myItemsMu.Unlock()

	if session.VerifyTradeItems() {
		t.Error("VerifyTradeItems()=true for drifted sets")
	}
}

func TestSetReadyStateTwiceIssuesOneRoundTrip(t *testing.T) {
	api := &stubApi{}
	session := newTestSession(api)

	if err := session.SetReadyState(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if err := session.SetReadyState(context.Background(), true); err != nil {
		t.Fatal(err)
	}

	if api.readyCalls != 1 {
		t.Errorf("readyCalls=%d, expected 1", api.readyCalls)
	}
}

func TestSetReadyStateRevertsOnFailure(t *testing.T) {
	api := &stubApi{readyErr: errors.New("boom")}
	session := newTestSession(api)

	if err := session.SetReadyState(context.Background(), true); err == nil {
		t.Fatal("expected error, got none")
	}

	if session.IsReady() {
		t.Error("IsReady()=true after failed round trip")
	}
}

func TestSendMessageRejectsEmptyText(t *testing.T) {
	api := &stubApi{}
	session := newTestSession(api)

	if err := session.SendMessage(context.Background(), ""); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("err=%v, expected ErrEmptyMessage", err)
	}

	if api.chatCalls != 0 {
		t.Errorf("chatCalls=%d, expected 0", api.chatCalls)
	}
}

func TestAcceptTradeFailsFastWhenNotReady(t *testing.T) {
	api := &stubApi{}
	session := newTestSession(api)

	if err := session.AddItem(context.Background(), testAsset(100)); err != nil {
		t.Fatal(err)
	}

	err := session.AcceptTrade(context.Background())
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("err=%v, expected ErrNotReady", err)
	}

	if api.confirmCalls != 0 {
		t.Errorf("confirmCalls=%d, expected 0", api.confirmCalls)
	}
}

func TestAcceptTradeHappyPath(t *testing.T) {
	api := &stubApi{}
	session := newTestSession(api)

	if err := session.AddItem(context.Background(), testAsset(100)); err != nil {
		t.Fatal(err)
	}
	if err := session.SetReadyState(context.Background(), true); err != nil {
		t.Fatal(err)
	}

	if err := session.AcceptTrade(context.Background()); err != nil {
		t.Fatal(err)
	}

	if api.confirmCalls != 1 {
		t.Errorf("confirmCalls=%d, expected 1", api.confirmCalls)
	}
}

func TestItemMutationClearsReadiness(t *testing.T) {
	api := &stubApi{}
	session := newTestSession(api)

	if err := session.SetReadyState(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if err := session.AddItem(context.Background(), testAsset(100)); err != nil {
		t.Fatal(err)
	}

	if session.IsReady() {
		t.Error("IsReady()=true after item mutation")
	}

	// one toggle for ready-up, one for the automatic ready-down
	if api.readyCalls != 2 {
		t.Errorf("readyCalls=%d, expected 2", api.readyCalls)
	}
}

func TestCancelTradeAlwaysEmitsEnded(t *testing.T) {
	api := &stubApi{cancelErr: errors.New("network down")}
	session := newTestSession(api)

	ended := 0
	session.OnTradeEnded(func(result EndResult) {
		ended++
		if result.Status != StatusCanceled {
			t.Errorf("result.Status=%v, expected Canceled", result.Status)
		}
	})

	if err := session.CancelTrade(context.Background()); err == nil {
		t.Error("expected network error, got none")
	}

	if session.Status() != StatusCanceled {
		t.Errorf("Status()=%v, expected Canceled", session.Status())
	}

	if ended != 1 {
		t.Errorf("TradeEnded fired %d times, expected 1", ended)
	}

	// terminal states never revert
	if err := session.CancelTrade(context.Background()); !errors.Is(err, ErrTradeEnded) {
		t.Errorf("err=%v, expected ErrTradeEnded", err)
	}
}

func TestVersionDiffFiresRemovalsBeforeAdditions(t *testing.T) {
	api := &stubApi{}
	session := newTestSession(api)

	session.partnerItemsMu.Lock()
	session.partnerOffered = []asset.Asset{testAsset(1), testAsset(2)}
	session.partnerItemsMu.Unlock()
	session.version = 1

	type change struct {
		added bool
		id    uint64
	}
	var changes []change
	session.OnPartnerOfferedItemsChanged(func(added bool, item asset.Asset) {
		changes = append(changes, change{added, item.AssetId})
	})

	response := okState()
	response.NewVersion = true
	response.Version = 2
	response.Them = &tradesession.PartyState{
		Assets: []tradesession.PartyAsset{partnerAsset(2), partnerAsset(3)},
	}
	session.processStatus(response)

	if len(changes) != 2 {
		t.Fatalf("changes=%v, expected exactly 2", changes)
	}
	if changes[0] != (change{false, 1}) {
		t.Errorf("changes[0]=%v, expected removal of 1", changes[0])
	}
	if changes[1] != (change{true, 3}) {
		t.Errorf("changes[1]=%v, expected addition of 3", changes[1])
	}

	offered := session.PartnerOfferedItems()
	if len(offered) != 2 || offered[0].AssetId != 2 || offered[1].AssetId != 3 {
		t.Errorf("partner offered=%v, expected [2 3]", offered)
	}

	if session.version != 2 {
		t.Errorf("version=%d, expected 2", session.version)
	}
}

func TestVersionDiffClearsReadiness(t *testing.T) {
	api := &stubApi{}
	session := newTestSession(api)

	if err := session.SetReadyState(context.Background(), true); err != nil {
		t.Fatal(err)
	}

	response := okState()
	response.NewVersion = true
	response.Version = 2
	response.Them = &tradesession.PartyState{
		Assets: []tradesession.PartyAsset{partnerAsset(7)},
	}
	session.processStatus(response)

	if session.IsReady() {
		t.Error("IsReady()=true after partner item change")
	}
}

func TestDuplicateLogEntryReplaysOnce(t *testing.T) {
	api := &stubApi{}
	session := newTestSession(api)

	var messages []string
	session.OnPartnerMessaged(func(message string) {
		messages = append(messages, message)
	})

	entry := tradesession.Event{
		SteamId:   testPartner.String(),
		Action:    tradesession.ChatAction,
		Timestamp: 1000,
		Text:      "hello",
	}

	first := okState()
	first.Events = []tradesession.Event{entry}
	session.processStatus(first)

	// overlapping response re-delivers the same entry
	second := okState()
	second.Events = []tradesession.Event{entry}
	session.processStatus(second)

	if len(messages) != 1 || messages[0] != "hello" {
		t.Errorf("messages=%v, expected exactly one hello", messages)
	}
}

func TestEventLogItemSuppressedAfterVersionDiff(t *testing.T) {
	api := &stubApi{}
	session := newTestSession(api)

	added := 0
	session.OnPartnerOfferedItemsChanged(func(isAdd bool, item asset.Asset) {
		if isAdd {
			added++
		}
	})

	// one response reports the same addition through both paths
	response := okState()
	response.NewVersion = true
	response.Version = 2
	response.Them = &tradesession.PartyState{
		Assets: []tradesession.PartyAsset{partnerAsset(7)},
	}
	response.Events = []tradesession.Event{{
		SteamId:   testPartner.String(),
		Action:    tradesession.ItemAddedAction,
		Timestamp: 1000,
		AppId:     440,
		ContextId: "2",
		AssetId:   7,
	}}
	session.processStatus(response)

	if added != 1 {
		t.Errorf("added fired %d times, expected 1", added)
	}
}

func TestPartnerReadyEdgeTriggersOnce(t *testing.T) {
	api := &stubApi{}
	session := newTestSession(api)

	flips := 0
	session.OnPartnerReadyStateChanged(func(ready bool) {
		flips++
	})

	ready := okState()
	ready.Them = &tradesession.PartyState{Ready: 1}
	session.processStatus(ready)

	steady := okState()
	steady.Them = &tradesession.PartyState{Ready: 1}
	session.processStatus(steady)

	if flips != 1 {
		t.Errorf("ready flips=%d, expected 1", flips)
	}

	if !session.IsPartnerReady() {
		t.Error("IsPartnerReady()=false")
	}
}

func TestPartnerAcceptedEdgeTriggersOnce(t *testing.T) {
	api := &stubApi{}
	session := newTestSession(api)

	accepted := 0
	session.OnPartnerAccepted(func() {
		accepted++
	})

	response := okState()
	response.Them = &tradesession.PartyState{Confirmed: 1}
	session.processStatus(response)
	session.processStatus(func() *tradesession.StateResponse {
		again := okState()
		again.Them = &tradesession.PartyState{Confirmed: 1}
		return again
	}())

	if accepted != 1 {
		t.Errorf("accepted fired %d times, expected 1", accepted)
	}
}

func TestModifiedCurrencyForceCancels(t *testing.T) {
	api := &stubApi{}
	session := newTestSession(api)

	ended := 0
	session.OnTradeEnded(func(result EndResult) {
		ended++
	})

	response := okState()
	response.Events = []tradesession.Event{{
		SteamId:   testPartner.String(),
		Action:    tradesession.ModifiedCurrencyAction,
		Timestamp: 1000,
	}}
	session.processStatus(response)

	if session.Status() != StatusCanceled {
		t.Errorf("Status()=%v, expected Canceled", session.Status())
	}

	if ended != 1 {
		t.Errorf("TradeEnded fired %d times, expected 1", ended)
	}
}

func TestCompletedStatusEndsSession(t *testing.T) {
	api := &stubApi{}
	session := newTestSession(api)

	var result EndResult
	ended := 0
	session.OnTradeEnded(func(r EndResult) {
		ended++
		result = r
	})

	response := okState()
	response.TradeStatus = tradesession.CompletedStatus
	response.TradeId = "4242"
	session.processStatus(response)

	if session.Status() != StatusCompleted {
		t.Errorf("Status()=%v, expected Completed", session.Status())
	}

	if ended != 1 || result.TradeId != "4242" {
		t.Errorf("ended=%d result=%+v, expected one end with tradeid 4242", ended, result)
	}
}

func TestCompletedWithPendingConfirmation(t *testing.T) {
	api := &stubApi{}
	session := newTestSession(api)

	response := okState()
	response.TradeStatus = tradesession.CompletedStatus
	response.NeedsConfirmation = true
	session.processStatus(response)

	if session.Status() != StatusCompletedWaitingForConfirmation {
		t.Errorf("Status()=%v, expected CompletedWaitingForConfirmation", session.Status())
	}
}

func TestConsecutivePollFailuresForceCancel(t *testing.T) {
	api := &stubApi{statusErr: errors.New("boom")}
	session := newTestSession(api)

	ended := 0
	session.OnTradeEnded(func(result EndResult) {
		ended++
	})

	for i := 0; i < 4; i++ {
		session.pollOnce()
	}

	if session.Status() != StatusCanceled {
		t.Errorf("Status()=%v, expected Canceled after failure budget", session.Status())
	}

	if ended != 1 {
		t.Errorf("TradeEnded fired %d times, expected 1", ended)
	}
}

func TestIdleSessionTimesOut(t *testing.T) {
	api := &stubApi{}
	session := newTestSession(api)

	ended := 0
	timedOut := 0
	session.OnTradeEnded(func(result EndResult) {
		ended++
		if !result.TimedOut {
			t.Error("result.TimedOut=false")
		}
	})
	session.OnTradeTimedOut(func() {
		timedOut++
	})

	session.stateMu.Lock()
	session.createdAt = time.Now().Add(-time.Hour)
	session.stateMu.Unlock()

	session.pollOnce()
	// a second tick must not double-fire
	session.pollOnce()

	if session.Status() != StatusCanceled {
		t.Errorf("Status()=%v, expected Canceled", session.Status())
	}

	if ended != 1 || timedOut != 1 {
		t.Errorf("ended=%d timedOut=%d, expected exactly 1 each", ended, timedOut)
	}
}

func TestPanickingHandlerIsSwallowed(t *testing.T) {
	api := &stubApi{}
	session := newTestSession(api)

	session.OnPartnerMessaged(func(message string) {
		panic("consumer bug")
	})
	calls := 0
	session.OnPartnerMessaged(func(message string) {
		calls++
	})

	response := okState()
	response.Events = []tradesession.Event{{
		SteamId:   testPartner.String(),
		Action:    tradesession.ChatAction,
		Timestamp: 1,
		Text:      "hi",
	}}
	session.processStatus(response)

	if calls != 1 {
		t.Errorf("second handler ran %d times, expected 1", calls)
	}

	if session.Status() != StatusActive {
		t.Errorf("Status()=%v, expected Active after handler panic", session.Status())
	}
}
