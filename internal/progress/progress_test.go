package progress

import (
	"errors"
	"sync"
	"testing"
)

func TestIdleByDefault(t *testing.T) {
	tr := New()
	st := tr.State()
	if st.Busy || st.Action != "Idle" || st.Percent != 0 {
		t.Errorf("initial state = %+v", st)
	}
}

func TestRunExclusiveRejectsSecondOperation(t *testing.T) {
	tr := New()
	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tr.RunExclusive("Snapshotting source", func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	err := tr.RunExclusive("Snapshotting target", func() error {
		t.Error("second operation must not run")
		return nil
	})
	if !errors.Is(err, ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}

	close(release)
	wg.Wait()

	st := tr.State()
	if st.Busy {
		t.Error("tracker still busy after operation finished")
	}
}

func TestRunExclusiveResetsOnFailure(t *testing.T) {
	tr := New()
	boom := errors.New("remote exploded")

	err := tr.RunExclusive("Deploying", func() error {
		tr.Update("Uploading to Target", 80)
		return boom
	})
	if err != boom {
		t.Fatalf("err = %v, want %v", err, boom)
	}

	st := tr.State()
	if st.Busy || st.Action != "Idle" || st.Percent != 0 {
		t.Errorf("state after failure = %+v, want idle", st)
	}
	if st.LastError != "remote exploded" {
		t.Errorf("lastError = %q", st.LastError)
	}
}

func TestRunExclusiveClearsPreviousError(t *testing.T) {
	tr := New()
	tr.RunExclusive("op", func() error { return errors.New("first failure") })
	tr.RunExclusive("op", func() error { return nil })
	if st := tr.State(); st.LastError != "" {
		t.Errorf("lastError = %q, want cleared by next operation", st.LastError)
	}
}

func TestUpdateClampsPercent(t *testing.T) {
	tr := New()
	tr.Update("over", 150)
	if st := tr.State(); st.Percent != 100 {
		t.Errorf("percent = %d, want 100", st.Percent)
	}
	tr.Update("under", -3)
	if st := tr.State(); st.Percent != 0 {
		t.Errorf("percent = %d, want 0", st.Percent)
	}
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	tr := New()
	ch, cancel := tr.Subscribe()
	defer cancel()

	tr.Update("Fetching ApexClass from source", 25)

	st := <-ch
	if st.Action != "Fetching ApexClass from source" || st.Percent != 25 {
		t.Errorf("received %+v", st)
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	tr := New()
	_, cancel := tr.Subscribe()
	defer cancel()

	// More updates than the subscriber buffer holds; must not deadlock.
	for i := 0; i < 100; i++ {
		tr.Update("spam", i%100)
	}
}
