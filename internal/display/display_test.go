package display

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func litIn(f *Frame, x0, y0, x1, y1 int) int {
	n := 0
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			if f.Lit(x, y) {
				n++
			}
		}
	}
	return n
}

func TestFrame_TextStaysInItsCell(t *testing.T) {
	f, err := NewFrame("")
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	if err := f.WriteTextAt(2, 1, "8"); err != nil {
		t.Fatalf("WriteTextAt: %v", err)
	}
	x0, y0 := 2*CellWidth, 1*RowHeight
	in := litIn(f, x0, y0, x0+CellWidth, y0+RowHeight)
	if in == 0 {
		t.Fatalf("no pixels lit in cell\n%s", f.Text())
	}
	if total := litIn(f, 0, 0, Width, Height); total != in {
		t.Fatalf("lit outside cell: total=%d cell=%d\n%s", total, in, f.Text())
	}

	f.Clear()
	if total := litIn(f, 0, 0, Width, Height); total != 0 {
		t.Fatalf("lit after clear=%d want 0", total)
	}
}

func TestFrame_OverwriteErasesPreviousText(t *testing.T) {
	f, _ := NewFrame(FontBasic)
	_ = f.WriteTextAt(0, 0, "#")
	_ = f.WriteTextAt(0, 0, " ")
	if n := litIn(f, 0, 0, CellWidth, RowHeight); n != 0 {
		t.Fatalf("lit=%d want 0", n)
	}
}

func TestFrame_TruncatesAtRightEdge(t *testing.T) {
	f, _ := NewFrame(FontBasic)
	if err := f.WriteTextAt(Columns-1, 0, "WWWW"); err != nil {
		t.Fatalf("WriteTextAt: %v", err)
	}
	if n := litIn(f, 0, 0, (Columns-1)*CellWidth, Height); n != 0 {
		t.Fatalf("lit left of start=%d want 0", n)
	}
	if n := litIn(f, (Columns-1)*CellWidth, 0, Width, RowHeight); n == 0 {
		t.Fatalf("last cell empty")
	}
}

func TestFrame_RejectsCellsOutsideGrid(t *testing.T) {
	f, _ := NewFrame(FontBasic)
	for _, c := range [][2]int{{-1, 0}, {Columns, 0}, {0, Rows}, {0, -1}} {
		if err := f.WriteTextAt(c[0], c[1], "x"); err == nil {
			t.Fatalf("cell=%v expected error", c)
		}
	}
}

func TestFrame_BanksLayout(t *testing.T) {
	f, _ := NewFrame(FontBasic)
	f.img.Pix[f.img.PixOffset(0, 0)] = 0xFF  // bank 0, column 0, bit 0
	f.img.Pix[f.img.PixOffset(5, 15)] = 0xFF // bank 1, column 5, bit 7
	f.img.Pix[f.img.PixOffset(83, 47)] = 0xFF

	b := f.Banks()
	if len(b) != 504 {
		t.Fatalf("len=%d want 504", len(b))
	}
	if b[0] != 0x01 {
		t.Fatalf("b[0]=%#x want 0x01", b[0])
	}
	if b[Width+5] != 0x80 {
		t.Fatalf("b[%d]=%#x want 0x80", Width+5, b[Width+5])
	}
	if b[503] != 0x80 {
		t.Fatalf("b[503]=%#x want 0x80", b[503])
	}
}

func TestFrame_GoMonoFont(t *testing.T) {
	f, err := NewFrame(FontGoMono)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	if err := f.WriteTextAt(0, 2, "Roll"); err != nil {
		t.Fatalf("WriteTextAt: %v", err)
	}
	if n := litIn(f, 0, 2*RowHeight, 4*CellWidth, Height); n == 0 {
		t.Fatalf("no pixels lit\n%s", f.Text())
	}
	if _, err := NewFrame("comic"); err == nil {
		t.Fatalf("expected unknown font error")
	}
}

type fakeSPI struct {
	txs    [][]byte
	dcAt   []int
	dc     *fakePin
	closed bool
}

func (s *fakeSPI) Tx(w []byte) error {
	s.txs = append(s.txs, append([]byte(nil), w...))
	s.dcAt = append(s.dcAt, s.dc.v)
	return nil
}

func (s *fakeSPI) Close() error {
	s.closed = true
	return nil
}

type fakePin struct {
	v      int
	writes []int
	closed bool
}

func (p *fakePin) SetValue(v int) error {
	p.v = v
	p.writes = append(p.writes, v)
	return nil
}

func (p *fakePin) Close() error {
	p.closed = true
	return nil
}

func newFakePCD8544(t *testing.T) (*PCD8544, *fakeSPI, *fakePin) {
	t.Helper()
	old := sleep
	sleep = func(time.Duration) {}
	t.Cleanup(func() { sleep = old })

	dc, rst := &fakePin{}, &fakePin{v: 1}
	spi := &fakeSPI{dc: dc}
	frame, _ := NewFrame(FontBasic)
	d, err := newPCD8544(spi, dc, rst, frame, 0)
	if err != nil {
		t.Fatalf("newPCD8544: %v", err)
	}
	if len(rst.writes) != 2 || rst.writes[0] != 0 || rst.writes[1] != 1 {
		t.Fatalf("rst writes=%v want [0 1]", rst.writes)
	}
	return d, spi, rst
}

func TestPCD8544_InitSequence(t *testing.T) {
	_, spi, _ := newFakePCD8544(t)
	if len(spi.txs) != 1 {
		t.Fatalf("txs=%d want 1", len(spi.txs))
	}
	want := []byte{0x21, 0xB1, 0x04, 0x14, 0x20, 0x0C}
	if !bytes.Equal(spi.txs[0], want) || spi.dcAt[0] != 0 {
		t.Fatalf("init=% X dc=%d want % X dc=0", spi.txs[0], spi.dcAt[0], want)
	}
}

func TestPCD8544_WriteFlushesFrame(t *testing.T) {
	d, spi, _ := newFakePCD8544(t)
	spi.txs, spi.dcAt = nil, nil

	if err := d.WriteTextAt(0, 0, "tick: 1"); err != nil {
		t.Fatalf("WriteTextAt: %v", err)
	}
	if len(spi.txs) != 2 {
		t.Fatalf("txs=%d want 2", len(spi.txs))
	}
	if !bytes.Equal(spi.txs[0], []byte{0x40, 0x80}) || spi.dcAt[0] != 0 {
		t.Fatalf("address=% X dc=%d", spi.txs[0], spi.dcAt[0])
	}
	if len(spi.txs[1]) != 504 || spi.dcAt[1] != 1 {
		t.Fatalf("data len=%d dc=%d want 504 1", len(spi.txs[1]), spi.dcAt[1])
	}
	if !bytes.Equal(spi.txs[1], d.Frame().Banks()) {
		t.Fatalf("data does not match frame")
	}

	if err := d.WriteTextAt(99, 0, "x"); err == nil {
		t.Fatalf("expected range error")
	}
}

func TestPCD8544_ClosePowersDown(t *testing.T) {
	d, spi, rst := newFakePCD8544(t)
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	last := spi.txs[len(spi.txs)-1]
	if !bytes.Equal(last, []byte{0x24}) {
		t.Fatalf("last cmd=% X want 24", last)
	}
	if !spi.closed || !spi.dc.closed || !rst.closed {
		t.Fatalf("spi=%v dc=%v rst=%v want all closed", spi.closed, spi.dc.closed, rst.closed)
	}
}

func TestNewPCD8544_RequiresParts(t *testing.T) {
	if _, err := newPCD8544(nil, &fakePin{}, &fakePin{}, &Frame{}, 0); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLogDisplay(t *testing.T) {
	d := NewLogDisplay(nil)
	_ = d.WriteTextAt(0, 0, "tick: 7")
	_ = d.WriteTextAt(2, 1, "ab")
	_ = d.WriteTextAt(0, 1, "X")
	if got := d.Row(0); got != "tick: 7" {
		t.Fatalf("row0=%q", got)
	}
	if got := d.Row(1); got != "X ab" {
		t.Fatalf("row1=%q want %q", got, "X ab")
	}
	_ = d.WriteTextAt(10, 2, "abcdef")
	if got := d.Row(2); got != "          ab" {
		t.Fatalf("row2=%q", got)
	}
	if err := d.WriteTextAt(0, Rows, "x"); err == nil {
		t.Fatalf("expected error")
	}
	_ = d.Clear()
	if d.Row(0) != "" {
		t.Fatalf("row0=%q after clear", d.Row(0))
	}
}

func TestOpen_Drivers(t *testing.T) {
	old := openPCD8544Fn
	openPCD8544Fn = func(cfg Config) (Display, error) {
		if cfg.Contrast != 0x40 {
			return nil, errors.New("config not passed through")
		}
		return NewLogDisplay(nil), nil
	}
	t.Cleanup(func() { openPCD8544Fn = old })

	if _, err := Open(Config{Contrast: 0x40}, nil); err != nil {
		t.Fatalf("Open pcd8544: %v", err)
	}
	d, err := Open(Config{Driver: "log"}, nil)
	if err != nil {
		t.Fatalf("Open log: %v", err)
	}
	if _, ok := d.(*LogDisplay); !ok {
		t.Fatalf("d=%T want *LogDisplay", d)
	}
	if _, err := Open(Config{Driver: "ssd1306"}, nil); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
