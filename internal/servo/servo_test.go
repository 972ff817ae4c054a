package servo

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"wingleveler/internal/filter"
)

type fakePeripheral struct {
	duties   []uint16
	released bool
	failAt   int // 1-based write index that fails; 0 never
}

func (p *fakePeripheral) SetDuty(duty uint16) error {
	if p.released {
		return errors.New("pin not driven")
	}
	if p.failAt > 0 && len(p.duties)+1 == p.failAt {
		p.failAt = 0
		return errors.New("bus error")
	}
	p.duties = append(p.duties, duty)
	return nil
}

func (p *fakePeripheral) Release() error {
	p.released = true
	return nil
}

func (p *fakePeripheral) last() uint16 {
	if len(p.duties) == 0 {
		return 0
	}
	return p.duties[len(p.duties)-1]
}

// latestPipeline passes the newest angle through unchanged.
func latestPipeline(t *testing.T) *filter.Pipeline {
	t.Helper()
	p, err := filter.NewPipeline(1, filter.Latest{})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

func newTestChannel(t *testing.T, cfg ChannelConfig) (*Channel, *fakePeripheral) {
	t.Helper()
	if cfg.MaxDuty == 0 {
		cfg.MinDuty, cfg.MaxDuty = 2500, 7500
	}
	fp := &fakePeripheral{}
	ch, err := NewChannel(cfg, latestPipeline(t), fp)
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	return ch, fp
}

func TestSetAngle_ClampsBeforeFiltering(t *testing.T) {
	ch, fp := newTestChannel(t, ChannelConfig{Name: "left"})

	if err := ch.SetAngle(-5); err != nil {
		t.Fatalf("SetAngle: %v", err)
	}
	if got := ch.Pipeline().Window(); len(got) != 1 || got[0] != 0 {
		t.Fatalf("window=%v want [0]", got)
	}
	if fp.last() != 2500 {
		t.Fatalf("duty=%d want 2500", fp.last())
	}

	if err := ch.SetAngle(200); err != nil {
		t.Fatalf("SetAngle: %v", err)
	}
	if got := ch.Pipeline().Window(); got[0] != 180 {
		t.Fatalf("window=%v want [180]", got)
	}
	if fp.last() != 7500 {
		t.Fatalf("duty=%d want 7500", fp.last())
	}
}

func TestDuty_LinearAndMonotonic(t *testing.T) {
	ch, _ := newTestChannel(t, ChannelConfig{Name: "left", MinDuty: 2500, MaxDuty: 7500})

	if got := ch.Duty(90); got != 5000 {
		t.Fatalf("duty(90)=%d want 5000", got)
	}
	// 2500 + 5000*(1/180) = 2527.7 truncates.
	if got := ch.Duty(1); got != 2527 {
		t.Fatalf("duty(1)=%d want 2527", got)
	}

	prev := ch.Duty(0)
	for a := 0.5; a <= 180; a += 0.5 {
		d := ch.Duty(a)
		if d < prev {
			t.Fatalf("duty(%v)=%d below duty(%v)=%d", a, d, a-0.5, prev)
		}
		prev = d
	}
	if prev != 7500 {
		t.Fatalf("duty(180)=%d want 7500", prev)
	}
}

func TestSetAngle_UsesChannelFilter(t *testing.T) {
	pipe, err := filter.Build(3, []filter.StageSpec{{Kind: "median"}, {Kind: "ema", Alpha: 0.5}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	fp := &fakePeripheral{}
	ch, err := NewChannel(ChannelConfig{Name: "right", MinDuty: 0, MaxDuty: 18000}, pipe, fp)
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}

	_ = ch.SetAngle(90) // median 90, ema seeds 90
	_ = ch.SetAngle(0)  // median of [90 0] = 45, ema 67.5
	if ch.Filtered() != 67.5 {
		t.Fatalf("filtered=%v want 67.5", ch.Filtered())
	}
	if fp.last() != 6750 {
		t.Fatalf("duty=%d want 6750", fp.last())
	}
	duty, ok := ch.CurrentDuty()
	if !ok || duty != 6750 {
		t.Fatalf("current=%d ok=%v want 6750", duty, ok)
	}
}

func TestSetAngle_FailedWriteKeepsCurrentDuty(t *testing.T) {
	ch, fp := newTestChannel(t, ChannelConfig{Name: "left"})
	if err := ch.SetAngle(90); err != nil {
		t.Fatalf("SetAngle: %v", err)
	}
	fp.failAt = 2
	if err := ch.SetAngle(180); err == nil {
		t.Fatalf("expected error")
	}
	if duty, _ := ch.CurrentDuty(); duty != 5000 {
		t.Fatalf("current=%d want 5000", duty)
	}
}

func TestReverse(t *testing.T) {
	ch, fp := newTestChannel(t, ChannelConfig{Name: "right", Reverse: true})
	_ = ch.SetAngle(0)
	if fp.last() != 7500 {
		t.Fatalf("duty=%d want 7500", fp.last())
	}
	_ = ch.SetAngle(200) // mirrored to -20, clamped to 0
	if fp.last() != 2500 {
		t.Fatalf("duty=%d want 2500", fp.last())
	}
}

func TestNewChannel_Validation(t *testing.T) {
	if _, err := NewChannel(ChannelConfig{MinDuty: 7500, MaxDuty: 2500}, latestPipeline(t), &fakePeripheral{}); err == nil {
		t.Fatalf("expected min/max error")
	}
	if _, err := NewChannel(ChannelConfig{MinDuty: 1, MaxDuty: 2}, nil, &fakePeripheral{}); err == nil {
		t.Fatalf("expected pipeline error")
	}
	if _, err := NewChannel(ChannelConfig{MinDuty: 1, MaxDuty: 2}, latestPipeline(t), nil); err == nil {
		t.Fatalf("expected peripheral error")
	}
}

func TestRelease_RejectsFurtherWrites(t *testing.T) {
	ch, fp := newTestChannel(t, ChannelConfig{Name: "left"})
	if err := ch.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !fp.released {
		t.Fatalf("peripheral not released")
	}
	if err := ch.SetAngle(90); !errors.Is(err, ErrReleased) {
		t.Fatalf("err=%v want ErrReleased", err)
	}
	if err := ch.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
}

type fakeRail struct{ closed int }

func (r *fakeRail) Close() error {
	r.closed++
	return nil
}

// stubSleep replaces the fail-safe hold with a recorder of requested waits.
func stubSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var waits []time.Duration
	old := sleep
	sleep = func(d time.Duration) { waits = append(waits, d) }
	t.Cleanup(func() { sleep = old })
	return &waits
}

// eventLog collects peripheral, hold and rail activity in call order.
type eventLog struct{ events []string }

type loggedPeripheral struct {
	name string
	log  *eventLog
}

func (p *loggedPeripheral) SetDuty(duty uint16) error {
	p.log.events = append(p.log.events, fmt.Sprintf("%s duty %d", p.name, duty))
	return nil
}

func (p *loggedPeripheral) Release() error {
	p.log.events = append(p.log.events, p.name+" release")
	return nil
}

type loggedRail struct{ log *eventLog }

func (r loggedRail) Close() error {
	r.log.events = append(r.log.events, "rail off")
	return nil
}

func TestGuard_HoldsNeutralBeforeRelease(t *testing.T) {
	el := &eventLog{}
	old := sleep
	sleep = func(d time.Duration) { el.events = append(el.events, "hold "+d.String()) }
	t.Cleanup(func() { sleep = old })

	var chans []*Channel
	for _, name := range []string{"left", "right"} {
		ch, err := NewChannel(ChannelConfig{Name: name, MinDuty: 2500, MaxDuty: 7500}, latestPipeline(t), &loggedPeripheral{name: name, log: el})
		if err != nil {
			t.Fatalf("NewChannel: %v", err)
		}
		chans = append(chans, ch)
	}
	bank := NewBank(nil, chans...)
	bank.SetRail(loggedRail{log: el})
	bank.SetFailSafeHold(750 * time.Millisecond)

	if err := bank.Guard(func() error { return errors.New("boom") }); err == nil {
		t.Fatalf("expected loop error")
	}
	want := []string{
		"left duty 5000",
		"right duty 5000",
		"hold 750ms",
		"left release",
		"right release",
		"rail off",
	}
	if !reflect.DeepEqual(el.events, want) {
		t.Fatalf("events=%q want=%q", el.events, want)
	}
}

func TestGuard_DefaultHold(t *testing.T) {
	waits := stubSleep(t)
	left, _ := newTestChannel(t, ChannelConfig{Name: "left"})
	if err := NewBank(nil, left).Guard(func() error { return nil }); err != nil {
		t.Fatalf("Guard: %v", err)
	}
	if len(*waits) != 1 || (*waits)[0] != DefaultFailSafeHold {
		t.Fatalf("waits=%v want=[%v]", *waits, DefaultFailSafeHold)
	}
}

func TestGuard_NoHoldWhenNothingDriven(t *testing.T) {
	waits := stubSleep(t)
	left, _ := newTestChannel(t, ChannelConfig{Name: "left"})
	bank := NewBank(nil, left)
	if err := bank.Guard(func() error { return left.Release() }); err != nil {
		t.Fatalf("Guard: %v", err)
	}
	if len(*waits) != 0 {
		t.Fatalf("waits=%v want none", *waits)
	}

	right, rp := newTestChannel(t, ChannelConfig{Name: "right"})
	bank = NewBank(nil, right)
	bank.SetFailSafeHold(-time.Second)
	if err := bank.Guard(func() error { return nil }); err != nil {
		t.Fatalf("Guard: %v", err)
	}
	if len(*waits) != 0 || rp.last() != 5000 || !rp.released {
		t.Fatalf("waits=%v duty=%d released=%v", *waits, rp.last(), rp.released)
	}
}

func TestGuard_ForcesNeutralOnError(t *testing.T) {
	stubSleep(t)
	left, lp := newTestChannel(t, ChannelConfig{Name: "left"})
	right, rp := newTestChannel(t, ChannelConfig{Name: "right", Reverse: true})
	bank := NewBank(nil, left, right)
	rail := &fakeRail{}
	bank.SetRail(rail)

	loopErr := errors.New("sensor gone")
	err := bank.Guard(func() error {
		_ = bank.SetAll(10)
		return loopErr
	})
	if !errors.Is(err, loopErr) {
		t.Fatalf("err=%v want %v", err, loopErr)
	}
	for name, fp := range map[string]*fakePeripheral{"left": lp, "right": rp} {
		if fp.last() != 5000 {
			t.Fatalf("%s duty=%d want 5000", name, fp.last())
		}
		if !fp.released {
			t.Fatalf("%s not released", name)
		}
	}
	if rail.closed != 1 {
		t.Fatalf("rail closed=%d want 1", rail.closed)
	}
}

func TestGuard_ForcesNeutralOnPanic(t *testing.T) {
	stubSleep(t)
	left, lp := newTestChannel(t, ChannelConfig{Name: "left"})
	bank := NewBank(nil, left)

	err := bank.Guard(func() error {
		_ = left.SetAngle(0)
		panic("boom")
	})
	if err == nil {
		t.Fatalf("expected error from panic")
	}
	if lp.last() != 5000 || !lp.released {
		t.Fatalf("duty=%d released=%v want 5000 true", lp.last(), lp.released)
	}
}

func TestGuard_NormalReturn(t *testing.T) {
	stubSleep(t)
	left, lp := newTestChannel(t, ChannelConfig{Name: "left"})
	bank := NewBank(nil, left)

	if err := bank.Guard(func() error { return left.SetAngle(180) }); err != nil {
		t.Fatalf("Guard: %v", err)
	}
	// Neutral is written directly, not through the filter.
	if lp.last() != 5000 {
		t.Fatalf("duty=%d want 5000", lp.last())
	}
	if got := left.Pipeline().Window(); got[0] != 180 {
		t.Fatalf("window=%v want [180]", got)
	}
}

func TestGuard_SkipsAlreadyReleased(t *testing.T) {
	stubSleep(t)
	left, _ := newTestChannel(t, ChannelConfig{Name: "left"})
	bank := NewBank(nil, left)
	if err := bank.Guard(func() error { return left.Release() }); err != nil {
		t.Fatalf("Guard: %v", err)
	}
}

func TestOpen_Backends(t *testing.T) {
	old := openPWMFn
	var gotChip, gotChannel, gotHz int
	openPWMFn = func(chip, channel, hz int) (Peripheral, error) {
		gotChip, gotChannel, gotHz = chip, channel, hz
		return &fakePeripheral{}, nil
	}
	t.Cleanup(func() { openPWMFn = old })

	if _, err := Open("left", PeripheralConfig{Chip: -1, Channel: 1}, nil); err != nil {
		t.Fatalf("Open sysfs: %v", err)
	}
	if gotChip != -1 || gotChannel != 1 || gotHz != 50 {
		t.Fatalf("chip=%d channel=%d hz=%d want -1 1 50", gotChip, gotChannel, gotHz)
	}

	p, err := Open("left", PeripheralConfig{Backend: "LOG"}, nil)
	if err != nil {
		t.Fatalf("Open log: %v", err)
	}
	lp, ok := p.(*LogPeripheral)
	if !ok {
		t.Fatalf("p=%T want *LogPeripheral", p)
	}
	_ = lp.SetDuty(4321)
	if lp.Last() != 4321 {
		t.Fatalf("last=%d want 4321", lp.Last())
	}
	_ = lp.Release()
	if err := lp.SetDuty(1); !errors.Is(err, ErrReleased) {
		t.Fatalf("err=%v want ErrReleased", err)
	}

	if _, err := Open("left", PeripheralConfig{Backend: "servoblaster"}, nil); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}
