package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"Toyol/pkg/engine"
	"Toyol/pkg/types"
	"Toyol/pkg/uitree"

	"golang.org/x/time/rate"
)

// deviceIDPattern accepts USB serials ("emulator-5554"), ip:port and mDNS names
var deviceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._:\-]+$`)

// ValidateDeviceID rejects IDs that could smuggle shell syntax into adb arguments
func ValidateDeviceID(deviceId string) error {
	if deviceId == "" {
		return fmt.Errorf("device ID cannot be empty")
	}
	if len(deviceId) > 256 {
		return fmt.Errorf("device ID too long (max 256 characters)")
	}
	if !deviceIDPattern.MatchString(deviceId) {
		return fmt.Errorf("invalid device ID format: contains illegal characters")
	}
	return nil
}

// adbRunner executes one adb invocation and returns its combined output
type adbRunner func(ctx context.Context, args ...string) (string, error)

// execRunner runs the adb binary at adbPath with proxy variables removed from
// the environment; adb's server connection breaks behind HTTP proxies.
func execRunner(adbPath string) adbRunner {
	return func(ctx context.Context, args ...string) (string, error) {
		cmd := exec.CommandContext(ctx, adbPath, args...)
		cmd.Env = withoutProxyEnv(os.Environ())
		output, err := cmd.CombinedOutput()
		res := string(output)
		if err != nil {
			return res, fmt.Errorf("adb %s failed: %w, output: %s", strings.Join(args, " "), err, strings.TrimSpace(res))
		}
		return res, nil
	}
}

func withoutProxyEnv(env []string) []string {
	proxyVars := []string{"HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY", "NO_PROXY", "http_proxy", "https_proxy", "all_proxy", "no_proxy"}
	out := make([]string, 0, len(env))
	for _, e := range env {
		isProxy := false
		for _, v := range proxyVars {
			if strings.HasPrefix(e, v+"=") {
				isProxy = true
				break
			}
		}
		if !isProxy {
			out = append(out, e)
		}
	}
	return out
}

// ResolveAdbPath returns path if set, otherwise the adb found on PATH
func ResolveAdbPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	found, err := exec.LookPath("adb")
	if err != nil {
		return "", fmt.Errorf("adb not found on PATH: %w", err)
	}
	return found, nil
}

// ========================================
// Device discovery
// ========================================

// ListDevices runs `adb devices -l`
func ListDevices(ctx context.Context, adbPath string) ([]types.Device, error) {
	output, err := execRunner(adbPath)(ctx, "devices", "-l")
	if err != nil {
		return nil, err
	}
	return parseDevices(output), nil
}

func parseDevices(output string) []types.Device {
	var devices []types.Device
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices attached") || strings.HasPrefix(line, "*") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		d := types.Device{ID: parts[0], State: parts[1]}
		hasUSB := false
		for _, p := range parts[2:] {
			kv := strings.SplitN(p, ":", 2)
			if len(kv) != 2 {
				continue
			}
			switch kv[0] {
			case "model":
				d.Model = kv[1]
			case "product":
				d.Product = kv[1]
			case "usb":
				hasUSB = true
			}
		}
		d.Wireless = !hasUSB && (strings.Contains(d.ID, ":") || strings.Contains(d.ID, "._tcp"))
		devices = append(devices, d)
	}
	return devices
}

// PickDevice returns want when it is online, or the first online device when want is empty
func PickDevice(devices []types.Device, want string) (string, error) {
	for _, d := range devices {
		if !d.Online() {
			continue
		}
		if want == "" || d.ID == want {
			return d.ID, nil
		}
	}
	if want != "" {
		return "", fmt.Errorf("device %s is not connected", want)
	}
	return "", fmt.Errorf("no online device")
}

// ========================================
// AdbDevice - engine.Platform over adb
// ========================================

const (
	dumpFile       = "/data/local/tmp/view.xml"
	dumpRetries    = 3
	keycodeBack    = 4
	swipeDuration  = 200
	defaultTreeTTL = 2 * time.Second
)

// AdbDeviceConfig configures an AdbDevice
type AdbDeviceConfig struct {
	AdbPath string
	Serial  string
	// TreeTTL bounds how long a dumped hierarchy is reused by Root
	TreeTTL time.Duration
	// Limiter paces dumps and input commands; nil uses 4/s with a burst of 2
	Limiter *rate.Limiter
	// Bell receives the confirmation sound; nil uses stderr
	Bell io.Writer
}

// AdbDevice drives one Android device through adb
type AdbDevice struct {
	engine.TreeLookup

	serial  string
	run     adbRunner
	limiter *rate.Limiter
	ttl     time.Duration
	bell    io.Writer

	mu       sync.Mutex
	cached   *uitree.Snapshot
	cachedAt time.Time
	screen   *types.ScreenSize
	// actions counts invalidations; Watch renotifies after each one
	actions uint64
}

// NewAdbDevice validates the serial and prepares the adapter
func NewAdbDevice(cfg AdbDeviceConfig) (*AdbDevice, error) {
	if err := ValidateDeviceID(cfg.Serial); err != nil {
		return nil, err
	}
	return newAdbDevice(cfg, execRunner(cfg.AdbPath)), nil
}

func newAdbDevice(cfg AdbDeviceConfig, run adbRunner) *AdbDevice {
	d := &AdbDevice{
		serial:  cfg.Serial,
		run:     run,
		limiter: cfg.Limiter,
		ttl:     cfg.TreeTTL,
		bell:    cfg.Bell,
	}
	if d.limiter == nil {
		d.limiter = rate.NewLimiter(rate.Every(250*time.Millisecond), 2)
	}
	if d.ttl <= 0 {
		d.ttl = defaultTreeTTL
	}
	if d.bell == nil {
		d.bell = os.Stderr
	}
	return d
}

// Serial returns the device ID
func (d *AdbDevice) Serial() string {
	return d.serial
}

func (d *AdbDevice) shell(ctx context.Context, command string) (string, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return d.run(ctx, "-s", d.serial, "shell", command)
}

// Root implements engine.Platform, reusing a recent dump when there is one
func (d *AdbDevice) Root(ctx context.Context) (uitree.Element, error) {
	d.mu.Lock()
	if d.cached != nil && time.Since(d.cachedAt) < d.ttl {
		root := d.cached.Root
		d.mu.Unlock()
		return root, nil
	}
	d.mu.Unlock()

	snap, err := d.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Root, nil
}

// Snapshot dumps the hierarchy unconditionally and refreshes the cache
func (d *AdbDevice) Snapshot(ctx context.Context) (*uitree.Snapshot, error) {
	timer := StartOperation("device", "dump_hierarchy").AddDetail("serial", d.serial)
	snap, err := d.dump(ctx)
	if err != nil {
		timer.EndWithError(err)
		return nil, err
	}
	timer.End()

	d.mu.Lock()
	d.cached = snap
	d.cachedAt = time.Now()
	d.mu.Unlock()
	return snap, nil
}

// dump retries because uiautomator fails while another dump is still running
func (d *AdbDevice) dump(ctx context.Context) (*uitree.Snapshot, error) {
	var lastErr error
	for i := 0; i < dumpRetries; i++ {
		if i > 0 {
			if _, err := d.shell(ctx, "pkill uiautomator"); err != nil {
				LogDebug("device").Err(err).Msg("pkill uiautomator failed")
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
		}

		output, err := d.shell(ctx, fmt.Sprintf("uiautomator dump %s && cat %s", dumpFile, dumpFile))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err == nil {
			snap, perr := uitree.ParseDump(output)
			if perr == nil {
				return snap, nil
			}
			err = perr
		}
		lastErr = err
		LogDebug("device").Int("retry", i+1).Err(err).Msg("UI dump retry")
	}
	return nil, fmt.Errorf("failed to dump UI after %d attempts: %w", dumpRetries, lastErr)
}

// invalidate drops the cached tree after an action changed the screen
func (d *AdbDevice) invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.actions++
	d.mu.Unlock()
}

func (d *AdbDevice) actionCount() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.actions
}

type rectangular interface {
	Rect() (*uitree.BoundsRect, error)
}

// Click implements engine.Platform. Elements without usable bounds are skipped.
func (d *AdbDevice) Click(ctx context.Context, el uitree.Element) error {
	r, ok := el.(rectangular)
	if !ok {
		return nil
	}
	rect, err := r.Rect()
	if err != nil || rect.Empty() {
		return nil
	}
	x, y := rect.Center()
	defer d.invalidate()
	if _, err := d.shell(ctx, fmt.Sprintf("input tap %d %d", x, y)); err != nil {
		return fmt.Errorf("tap failed: %w", err)
	}
	return nil
}

// SwipeVertical implements engine.Platform: a downward swipe across the middle half
func (d *AdbDevice) SwipeVertical(ctx context.Context) error {
	size, err := d.ScreenSize(ctx)
	if err != nil {
		return err
	}
	x := size.Width / 2
	defer d.invalidate()
	cmd := fmt.Sprintf("input swipe %d %d %d %d %d", x, size.Height/4, x, size.Height*3/4, swipeDuration)
	if _, err := d.shell(ctx, cmd); err != nil {
		return fmt.Errorf("swipe failed: %w", err)
	}
	return nil
}

// NavigateBack implements engine.Platform
func (d *AdbDevice) NavigateBack(ctx context.Context) error {
	defer d.invalidate()
	if _, err := d.shell(ctx, fmt.Sprintf("input keyevent %d", keycodeBack)); err != nil {
		return fmt.Errorf("back failed: %w", err)
	}
	return nil
}

// PlayConfirmation implements engine.Platform
func (d *AdbDevice) PlayConfirmation(ctx context.Context) {
	fmt.Fprint(d.bell, "\a")
	DeviceLog().Str("device", d.serial).Msg("Booking confirmed")
}

var sizeRe = regexp.MustCompile(`(Physical|Override) size:\s*(\d+)x(\d+)`)

// ScreenSize reads `wm size` once; an override size wins over the physical one
func (d *AdbDevice) ScreenSize(ctx context.Context) (types.ScreenSize, error) {
	d.mu.Lock()
	if d.screen != nil {
		s := *d.screen
		d.mu.Unlock()
		return s, nil
	}
	d.mu.Unlock()

	output, err := d.shell(ctx, "wm size")
	if err != nil {
		return types.ScreenSize{}, err
	}
	size, err := parseScreenSize(output)
	if err != nil {
		return types.ScreenSize{}, err
	}

	d.mu.Lock()
	d.screen = &size
	d.mu.Unlock()
	return size, nil
}

func parseScreenSize(output string) (types.ScreenSize, error) {
	var size types.ScreenSize
	for _, m := range sizeRe.FindAllStringSubmatch(output, -1) {
		w, _ := strconv.Atoi(m[2])
		h, _ := strconv.Atoi(m[3])
		if size.Width == 0 || m[1] == "Override" {
			size = types.ScreenSize{Width: w, Height: h}
		}
	}
	if size.Width == 0 || size.Height == 0 {
		return size, fmt.Errorf("unexpected wm size output: %q", strings.TrimSpace(output))
	}
	return size, nil
}

// ========================================
// Tree watcher
// ========================================

// TreeNotifier receives changed hierarchies; *engine.Engine implements it
type TreeNotifier interface {
	TreeChanged(ctx context.Context, root uitree.Element) error
}

// Watch polls the hierarchy every interval and notifies on content changes
// until ctx is done or the notifier stops. The first dump after a tap, swipe
// or back key is always delivered, even when the screen looks the same.
func (d *AdbDevice) Watch(ctx context.Context, interval time.Duration, n TreeNotifier) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last string
	var seen uint64
	for {
		actions := d.actionCount()
		snap, err := d.Snapshot(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			LogWarn("device").Err(err).Str("device", d.serial).Msg("Hierarchy dump failed")
		case snap.Digest != last || actions != seen:
			last, seen = snap.Digest, actions
			if err := n.TreeChanged(ctx, snap.Root); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
