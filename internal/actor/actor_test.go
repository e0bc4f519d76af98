package actor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ratbagd/ratbagd/internal/capability"
	"github.com/ratbagd/ratbagd/internal/hidraw"
	"github.com/ratbagd/ratbagd/internal/logging"
	"github.com/ratbagd/ratbagd/internal/raterr"
	"github.com/ratbagd/ratbagd/internal/state"
)

// fakeDriver is a minimal driver.Driver used to drive a real actor
// goroutine through probe, mutate, commit, and shutdown without any wire
// protocol at all.
type fakeDriver struct {
	caps        capability.Capabilities
	profiles    []*state.Profile
	probeErr    error
	commitErr   error
	commitCalls int
}

func (f *fakeDriver) Probe(ctx context.Context, io hidraw.IO) (capability.Capabilities, error) {
	if f.probeErr != nil {
		return capability.Capabilities{}, f.probeErr
	}
	return f.caps, nil
}

func (f *fakeDriver) LoadProfiles(ctx context.Context, io hidraw.IO, caps capability.Capabilities) ([]*state.Profile, error) {
	return f.profiles, nil
}

func (f *fakeDriver) Commit(ctx context.Context, io hidraw.IO, diff state.DiffTree) error {
	f.commitCalls++
	return f.commitErr
}

func testProfile() *state.Profile {
	return &state.Profile{
		Index: 0, Name: "Default", Enabled: true, Active: true, ReportRate: 1000,
		Resolutions: []*state.Resolution{
			{Index: 0, DPIX: 800, DPIY: 800, Enabled: true, Active: true, IsDefault: true},
			{Index: 1, DPIX: 1600, DPIY: 1600, Enabled: true},
		},
		Buttons: []*state.Button{{Index: 0, Action: state.NoAction{}}},
		LEDs:    []*state.LED{{Index: 0, Mode: state.LEDOff}},
	}
}

func testActorCaps() capability.Capabilities {
	return capability.Capabilities{
		ProfileCount: 1, ResolutionCount: 2, ButtonCount: 1, LEDCount: 1,
		DPI: capability.Range{Min: 400, Max: 3200, Step: 100},
		Features: capability.NewSet(capability.FeatureDistinctDefaultResolution, capability.FeatureSeparateXYResolution),
	}
}

func newTestActor(t *testing.T, drv *fakeDriver) (*Actor, context.Context, context.CancelFunc) {
	stub := hidraw.NewStub(nil)
	a := New(state.Identity{Sysname: "hidraw0"}, stub, drv, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)
	return a, ctx, cancel
}

func readSnapshot(t *testing.T, a *Actor) state.Snapshot {
	reply := make(chan state.Snapshot, 1)
	a.Send(ReadSnapshot{Reply: reply})
	select {
	case s := <-reply:
		return s
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
		return state.Snapshot{}
	}
}

func TestActorProbeThenReadSnapshot(t *testing.T) {
	drv := &fakeDriver{caps: testActorCaps(), profiles: []*state.Profile{testProfile()}}
	a, _, cancel := newTestActor(t, drv)
	defer cancel()

	snap := readSnapshot(t, a)
	require.Equal(t, "Default", snap.Profiles[0].Name)
	require.Equal(t, 800, snap.Profiles[0].Resolutions[0].DPIX)
}

func TestActorMutateThenCommit(t *testing.T) {
	drv := &fakeDriver{caps: testActorCaps(), profiles: []*state.Profile{testProfile()}}
	a, _, cancel := newTestActor(t, drv)
	defer cancel()

	mutateReply := make(chan error, 1)
	a.Send(Mutate{Mutation: state.ResolutionSet{Profile: 0, Slot: 0, DPIX: 1200, DPIY: 1200}, Reply: mutateReply})
	require.NoError(t, <-mutateReply)

	commitReply := make(chan error, 1)
	a.Send(Commit{Reply: commitReply})
	require.NoError(t, <-commitReply)
	require.Equal(t, 1, drv.commitCalls)

	snap := readSnapshot(t, a)
	require.Equal(t, 1200, snap.Profiles[0].Resolutions[0].DPIX)
	require.False(t, snap.Profiles[0].Dirty)
}

func TestActorCommitFailureMarksUnknown(t *testing.T) {
	drv := &fakeDriver{
		caps: testActorCaps(), profiles: []*state.Profile{testProfile()},
		commitErr: raterr.New("Commit", raterr.PartialCommit, nil),
	}
	a, _, cancel := newTestActor(t, drv)
	defer cancel()

	mutateReply := make(chan error, 1)
	a.Send(Mutate{Mutation: state.ResolutionSet{Profile: 0, Slot: 0, DPIX: 1200, DPIY: 1200}, Reply: mutateReply})
	require.NoError(t, <-mutateReply)

	commitReply := make(chan error, 1)
	a.Send(Commit{Reply: commitReply})
	require.Error(t, <-commitReply)

	snap := readSnapshot(t, a)
	require.True(t, snap.Profiles[0].Resolutions[0].Unknown)
}

func TestActorShutdownReachesGone(t *testing.T) {
	drv := &fakeDriver{caps: testActorCaps(), profiles: []*state.Profile{testProfile()}}
	a, _, cancel := newTestActor(t, drv)
	defer cancel()

	_ = readSnapshot(t, a) // ensure probe completed before shutdown races it

	shutdownReply := make(chan struct{})
	a.Send(Shutdown{Reply: shutdownReply})
	<-shutdownReply

	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("actor did not reach Gone after Shutdown")
	}
}

func TestActorProbeFailureGoesStraightToGone(t *testing.T) {
	drv := &fakeDriver{probeErr: raterr.New("Probe", raterr.Unsupported, nil)}
	a, _, cancel := newTestActor(t, drv)
	defer cancel()

	select {
	case <-a.Ready():
	case <-time.After(time.Second):
		t.Fatal("actor never reported Ready after a failed probe")
	}
	require.Error(t, a.ProbeErr())

	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("actor did not exit after a failed probe")
	}
	require.Equal(t, Gone, a.State())
}

func TestActorTrySendReturnsBusyWhenQueueFull(t *testing.T) {
	drv := &fakeDriver{caps: testActorCaps(), profiles: []*state.Profile{testProfile()}}
	a, _, cancel := newTestActor(t, drv)
	defer cancel()

	_ = readSnapshot(t, a) // ensure probe completed before stalling the loop

	// Stall the actor's single serving goroutine on a command whose reply
	// nobody reads, so the queue below fills up instead of draining.
	stallReply := make(chan error)
	require.NoError(t, a.TrySend(Mutate{
		Mutation: state.ResolutionSet{Profile: 0, Slot: 0, DPIX: 800, DPIY: 800},
		Reply:    stallReply,
	}))
	time.Sleep(20 * time.Millisecond)
	defer func() { go func() { <-stallReply }() }()

	for i := 0; i < commandQueueCapacity; i++ {
		err := a.TrySend(ReadSnapshot{Reply: make(chan state.Snapshot, 1)})
		require.NoError(t, err)
	}

	err := a.TrySend(ReadSnapshot{Reply: make(chan state.Snapshot, 1)})
	require.Error(t, err)
	rerr, ok := err.(*raterr.Error)
	require.True(t, ok)
	require.Equal(t, raterr.Busy, rerr.Kind)
}
