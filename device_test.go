package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"Toyol/pkg/uitree"

	"golang.org/x/time/rate"
)

const plannerDump = `UI hierchary dumped to: /data/local/tmp/view.xml
<?xml version='1.0' encoding='UTF-8' standalone='yes' ?><hierarchy rotation="0"><node text="Booking Planner" resource-id="" class="android.widget.FrameLayout" package="com.grabtaxi.driver2" content-desc="" bounds="[0,0][1080,2400]"><node text="JustGrab" resource-id="com.grabtaxi.driver2:id/unified_item_layout" class="android.widget.LinearLayout" package="com.grabtaxi.driver2" content-desc="" bounds="[0,400][1080,600]" /></node></hierarchy>`

// fakeAdb answers shell commands from a table and records them
type fakeAdb struct {
	mu       sync.Mutex
	calls    []string
	dumps    []string // returned in order, the last one repeats
	dumpErrs int
	wmSize   string
	pkillErr error
}

func (f *fakeAdb) run(ctx context.Context, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := strings.Join(args[3:], " ")
	f.calls = append(f.calls, cmd)

	switch {
	case strings.HasPrefix(cmd, "uiautomator dump"):
		if f.dumpErrs > 0 {
			f.dumpErrs--
			return "ERROR: could not get idle state.", errors.New("exit status 1")
		}
		out := f.dumps[0]
		if len(f.dumps) > 1 {
			f.dumps = f.dumps[1:]
		}
		return out, nil
	case cmd == "wm size":
		return f.wmSize, nil
	case cmd == "pkill uiautomator" && f.pkillErr != nil:
		return "", f.pkillErr
	}
	return "", nil
}

func (f *fakeAdb) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestDevice(f *fakeAdb) *AdbDevice {
	return newAdbDevice(AdbDeviceConfig{
		Serial:  "emulator-5554",
		Limiter: rate.NewLimiter(rate.Inf, 1),
		TreeTTL: time.Hour,
		Bell:    &bytes.Buffer{},
	}, f.run)
}

func TestParseDevices(t *testing.T) {
	output := `List of devices attached
* daemon started successfully
emulator-5554          device product:sdk_gphone64 model:sdk_gphone64_x86_64 transport_id:1
192.168.1.20:5555      offline
R58M123ABC             device usb:1-1 product:a52 model:SM_A525F
`
	devices := parseDevices(output)
	if len(devices) != 3 {
		t.Fatalf("expected 3 devices, got %+v", devices)
	}
	if devices[0].Model != "sdk_gphone64_x86_64" || !devices[0].Online() {
		t.Errorf("unexpected first device %+v", devices[0])
	}
	if !devices[1].Wireless || devices[1].Online() {
		t.Errorf("unexpected wireless device %+v", devices[1])
	}
	if devices[2].Wireless {
		t.Errorf("usb device reported wireless: %+v", devices[2])
	}

	if id, err := PickDevice(devices, ""); err != nil || id != "emulator-5554" {
		t.Errorf("PickDevice default: %s, %v", id, err)
	}
	if _, err := PickDevice(devices, "192.168.1.20:5555"); err == nil {
		t.Error("expected offline device to be rejected")
	}
	if _, err := PickDevice(nil, ""); err == nil {
		t.Error("expected error with no devices")
	}
}

func TestValidateDeviceID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"emulator-5554", true},
		{"192.168.1.100:5555", true},
		{"adb-ABC._adb-tls-connect._tcp.", true},
		{"", false},
		{"dev; rm -rf /", false},
		{"$(reboot)", false},
	}
	for _, tt := range tests {
		if err := ValidateDeviceID(tt.id); (err == nil) != tt.valid {
			t.Errorf("ValidateDeviceID(%q) = %v", tt.id, err)
		}
	}
}

func TestParseScreenSize(t *testing.T) {
	size, err := parseScreenSize("Physical size: 1080x2400\nOverride size: 720x1600\n")
	if err != nil || size.Width != 720 || size.Height != 1600 {
		t.Errorf("override should win, got %+v, %v", size, err)
	}
	size, err = parseScreenSize("Physical size: 1080x2400")
	if err != nil || size.Width != 1080 {
		t.Errorf("got %+v, %v", size, err)
	}
	if _, err := parseScreenSize("error: no devices"); err == nil {
		t.Error("expected error")
	}
}

func TestRootCachesAndRetries(t *testing.T) {
	f := &fakeAdb{dumps: []string{plannerDump}, dumpErrs: 1}
	d := newTestDevice(f)

	root, err := d.Root(context.Background())
	if err != nil {
		t.Fatalf("Root failed: %v", err)
	}
	if uitree.FindByText(root, "Booking Planner") == nil {
		t.Error("expected planner marker in tree")
	}
	if _, err := d.Root(context.Background()); err != nil {
		t.Fatal(err)
	}

	dumps := 0
	killed := false
	for _, c := range f.commands() {
		if strings.HasPrefix(c, "uiautomator dump") {
			dumps++
		}
		if c == "pkill uiautomator" {
			killed = true
		}
	}
	if dumps != 2 || !killed {
		t.Errorf("expected one failed and one cached dump, got %v", f.commands())
	}
}

func TestRootRetriesWhenPkillFails(t *testing.T) {
	// pkill exits 1 when no uiautomator process is left to kill
	f := &fakeAdb{dumps: []string{plannerDump}, dumpErrs: 2, pkillErr: errors.New("exit status 1")}
	d := newTestDevice(f)

	root, err := d.Root(context.Background())
	if err != nil {
		t.Fatalf("Root failed: %v", err)
	}
	if uitree.FindByText(root, "Booking Planner") == nil {
		t.Error("expected planner marker in tree")
	}
}

func TestRootGivesUp(t *testing.T) {
	f := &fakeAdb{dumps: []string{"no xml here"}}
	d := newTestDevice(f)
	if _, err := d.Root(context.Background()); err == nil {
		t.Error("expected error after retries")
	}
}

func TestActions(t *testing.T) {
	f := &fakeAdb{dumps: []string{plannerDump}, wmSize: "Physical size: 1080x2400"}
	d := newTestDevice(f)
	ctx := context.Background()

	root, err := d.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	job := d.FindAllByID(root, "com.grabtaxi.driver2:id/unified_item_layout")
	if len(job) != 1 {
		t.Fatalf("expected one candidate, got %d", len(job))
	}
	if err := d.Click(ctx, job[0]); err != nil {
		t.Fatal(err)
	}
	if err := d.SwipeVertical(ctx); err != nil {
		t.Fatal(err)
	}
	if err := d.SwipeVertical(ctx); err != nil {
		t.Fatal(err)
	}
	if err := d.NavigateBack(ctx); err != nil {
		t.Fatal(err)
	}
	if err := d.Click(ctx, &uitree.Node{Bounds: "[0,0][0,0]"}); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"uiautomator dump /data/local/tmp/view.xml && cat /data/local/tmp/view.xml",
		"input tap 540 500",
		"wm size",
		"input swipe 540 600 540 1800 200",
		"input swipe 540 600 540 1800 200",
		"input keyevent 4",
	}
	got := f.commands()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("commands:\n got %v\nwant %v", got, want)
	}
	d.mu.Lock()
	cached := d.cached
	d.mu.Unlock()
	if cached != nil {
		t.Error("actions should invalidate the cached tree")
	}
}

func TestPlayConfirmationRingsBell(t *testing.T) {
	var bell bytes.Buffer
	d := newAdbDevice(AdbDeviceConfig{Serial: "x", Bell: &bell}, (&fakeAdb{}).run)
	d.PlayConfirmation(context.Background())
	if bell.String() != "\a" {
		t.Errorf("expected bell, got %q", bell.String())
	}
}

type notifyRecorder struct {
	mu    sync.Mutex
	roots []uitree.Element
	stop  int
	// onNotify runs after each recorded notification
	onNotify func()
}

func (n *notifyRecorder) TreeChanged(ctx context.Context, root uitree.Element) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.roots = append(n.roots, root)
	if len(n.roots) == n.stop {
		return errors.New("stopped")
	}
	if n.onNotify != nil {
		n.onNotify()
	}
	return nil
}

func TestWatchNotifiesOnlyOnChange(t *testing.T) {
	other := strings.Replace(plannerDump, "JustGrab", "GrabCar", 1)
	f := &fakeAdb{dumps: []string{plannerDump, plannerDump, other}}
	d := newTestDevice(f)
	n := &notifyRecorder{stop: 2}

	err := d.Watch(context.Background(), time.Millisecond, n)
	if err == nil || err.Error() != "stopped" {
		t.Fatalf("expected notifier error to end the watch, got %v", err)
	}
	if uitree.FindByText(n.roots[1], "GrabCar") == nil {
		t.Error("second notification should carry the changed tree")
	}

	dumps := 0
	for _, c := range f.commands() {
		if strings.HasPrefix(c, "uiautomator dump") {
			dumps++
		}
	}
	if dumps != 3 {
		t.Errorf("expected the unchanged dump to be skipped, got %d dumps", dumps)
	}
}

func TestWatchStopsOnCancel(t *testing.T) {
	f := &fakeAdb{dumps: []string{plannerDump}}
	d := newTestDevice(f)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Watch(ctx, time.Millisecond, &notifyRecorder{}) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Watch did not stop")
	}
}

func TestWatchRenotifiesAfterAction(t *testing.T) {
	f := &fakeAdb{dumps: []string{plannerDump}}
	d := newTestDevice(f)
	n := &notifyRecorder{stop: 2}
	n.onNotify = func() {
		if err := d.NavigateBack(context.Background()); err != nil {
			t.Error(err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := d.Watch(ctx, time.Millisecond, n)
	if err == nil || err.Error() != "stopped" {
		t.Fatalf("an unchanged screen after an action should be delivered again, got %v", err)
	}
	if uitree.FindByText(n.roots[1], "JustGrab") == nil {
		t.Error("second notification should carry the planner")
	}
}
