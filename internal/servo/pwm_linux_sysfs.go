//go:build linux

package servo

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// sysfsPWM drives one servo signal through /sys/class/pwm.
//
// On Raspberry Pi the channels appear once `dtoverlay=pwm-2chan` is enabled
// (GPIO18 is channel 0, GPIO19 is channel 1).
type sysfsPWM struct {
	dir      string // /sys/class/pwm/pwmchipN/pwmM
	periodNS uint64 // zero once released
	enabled  bool
}

var pwmSysfsBase = "/sys/class/pwm"

var (
	sysfsSleep    = time.Sleep
	exportTimeout = 500 * time.Millisecond
	writeTimeout  = 2 * time.Second
)

func openPWM(chip, channel, hz int) (Peripheral, error) {
	if channel < 0 {
		return nil, fmt.Errorf("invalid pwm channel %d", channel)
	}
	if hz <= 0 {
		return nil, fmt.Errorf("invalid pwm frequency %d", hz)
	}

	chipDir, err := resolveChip(chip, channel)
	if err != nil {
		return nil, err
	}
	dir, err := exportChannel(chipDir, channel)
	if err != nil {
		return nil, err
	}

	d := &sysfsPWM{dir: dir}
	if err := d.configure(uint64(time.Second) / uint64(hz)); err != nil {
		return nil, err
	}
	return d, nil
}

// resolveChip returns the pwmchip directory to use. A negative chip picks
// the first one that has the requested channel.
func resolveChip(chip, channel int) (string, error) {
	if chip < 0 {
		return findPWMChip(channel)
	}
	dir := filepath.Join(pwmSysfsBase, "pwmchip"+strconv.Itoa(chip))
	n, err := readInt(filepath.Join(dir, "npwm"))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", dir, err)
	}
	if channel >= n {
		return "", fmt.Errorf("%s has %d channels, want channel %d", dir, n, channel)
	}
	return dir, nil
}

// findPWMChip returns the lowest numbered pwmchip with more than channel
// channels. pwmchipN entries are usually symlinks, not directories.
func findPWMChip(channel int) (string, error) {
	entries, err := os.ReadDir(pwmSysfsBase)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", pwmSysfsBase, err)
	}
	var chips []int
	for _, e := range entries {
		idx, ok := strings.CutPrefix(e.Name(), "pwmchip")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(idx); err == nil {
			chips = append(chips, n)
		}
	}
	slices.SortFunc(chips, cmp.Compare[int])

	for _, n := range chips {
		dir := filepath.Join(pwmSysfsBase, "pwmchip"+strconv.Itoa(n))
		if npwm, err := readInt(filepath.Join(dir, "npwm")); err == nil && npwm > channel {
			return dir, nil
		}
	}
	return "", fmt.Errorf("no sysfs pwmchip with channel %d (is the pwm overlay enabled?)", channel)
}

// exportChannel makes pwmM appear under chipDir and returns its path. The
// kernel creates the directory asynchronously after the export write.
func exportChannel(chipDir string, channel int) (string, error) {
	dir := filepath.Join(chipDir, "pwm"+strconv.Itoa(channel))
	if exists(dir) {
		return dir, nil
	}
	if err := writeSysfs(filepath.Join(chipDir, "export"), strconv.Itoa(channel)); err != nil && !exists(dir) {
		return "", fmt.Errorf("export pwm%d: %w", channel, err)
	}
	for deadline := time.Now().Add(exportTimeout); !exists(dir); {
		if !time.Now().Before(deadline) {
			return "", fmt.Errorf("pwm%d not created after export", channel)
		}
		sysfsSleep(10 * time.Millisecond)
	}
	return dir, nil
}

// configure disables the output and programs the servo frame period. Most
// controllers refuse a period change while enabled, and duty_cycle may never
// exceed period, so both are cleared first.
func (d *sysfsPWM) configure(periodNS uint64) error {
	_ = d.set("enable", "0")
	d.enabled = false
	_ = d.set("duty_cycle", "0")
	if err := d.set("period", strconv.FormatUint(periodNS, 10)); err != nil {
		return err
	}
	d.periodNS = periodNS
	return nil
}

// SetDuty converts a 16-bit duty fraction to nanoseconds of high time and
// enables the output on first use.
func (d *sysfsPWM) SetDuty(duty uint16) error {
	if d.periodNS == 0 {
		return ErrReleased
	}
	highNS := d.periodNS * uint64(duty) / 0xFFFF
	if err := d.set("duty_cycle", strconv.FormatUint(highNS, 10)); err != nil {
		return err
	}
	if d.enabled {
		return nil
	}
	if err := d.set("enable", "1"); err != nil {
		return err
	}
	d.enabled = true
	return nil
}

func (d *sysfsPWM) Release() error {
	if d.periodNS == 0 {
		return nil
	}
	d.periodNS, d.enabled = 0, false
	return d.set("enable", "0")
}

func (d *sysfsPWM) set(attr, value string) error {
	return writeSysfs(filepath.Join(d.dir, attr), value)
}

// writeSysfs opens with O_WRONLY only: some sysfs attributes reject
// O_TRUNC/O_CREATE. Right after export udev may still be fixing
// permissions, so access and not-found errors are retried for a while.
func writeSysfs(path, value string) error {
	deadline := time.Now().Add(writeTimeout)
	for {
		err := writeOnce(path, value)
		if err == nil {
			return nil
		}
		if !transientSysfsErr(err) || !time.Now().Before(deadline) {
			return err
		}
		sysfsSleep(25 * time.Millisecond)
	}
}

func writeOnce(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(value)
	return errors.Join(werr, f.Close())
}

func transientSysfsErr(err error) bool {
	for _, target := range []error{fs.ErrPermission, fs.ErrNotExist, syscall.EACCES, syscall.EPERM, syscall.ENOENT} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func readInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, fmt.Errorf("%s is empty", path)
	}
	return strconv.Atoi(s)
}
