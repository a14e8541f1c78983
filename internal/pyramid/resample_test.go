package pyramid

import (
	"math"
	"testing"

	"github.com/pspoerri/planetiles/internal/raster"
)

func TestResampleHalvesByAveraging(t *testing.T) {
	src := raster.NewBand(4, 2, raster.Uint8)
	copy(src.Pix, []float32{
		0, 10, 100, 200,
		20, 30, 50, 50,
	})
	got, err := Resample(src, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{15, 100}
	for i := range want {
		if got.Pix[i] != want[i] {
			t.Errorf("pixel %d = %v, want %v", i, got.Pix[i], want[i])
		}
	}
}

func TestResampleFractionalCoverage(t *testing.T) {
	// 3 -> 2: each output covers 1.5 source samples.
	src := raster.NewBand(3, 1, raster.Float32)
	copy(src.Pix, []float32{0, 3, 6})
	got, err := Resample(src, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	// (0*1 + 3*0.5)/1.5 = 1, (3*0.5 + 6*1)/1.5 = 5
	for i, want := range []float32{1, 5} {
		if math.Abs(float64(got.Pix[i]-want)) > 1e-5 {
			t.Errorf("pixel %d = %v, want %v", i, got.Pix[i], want)
		}
	}
}

func TestResamplePreservesTypeAndMean(t *testing.T) {
	for _, typ := range []raster.SampleType{raster.Uint8, raster.Uint16, raster.Int16, raster.Float32} {
		src := raster.NewBand(37, 23, typ)
		src.Fill(77)
		got, err := Resample(src, 10, 6)
		if err != nil {
			t.Fatal(err)
		}
		if got.Type != typ {
			t.Errorf("type = %v, want %v", got.Type, typ)
		}
		for i, v := range got.Pix {
			if math.Abs(float64(v-77)) > 1e-3 {
				t.Fatalf("%v pixel %d = %v, want 77", typ, i, v)
			}
		}
	}
}

func TestResampleIntegerRounding(t *testing.T) {
	src := raster.NewBand(2, 1, raster.Uint16)
	copy(src.Pix, []float32{1, 2})
	got, err := Resample(src, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Pix[0] != 2 { // 1.5 rounds half-up
		t.Errorf("got %v, want 2", got.Pix[0])
	}
}

func TestResampleSameSizeCopies(t *testing.T) {
	src := raster.NewBand(3, 3, raster.Int16)
	src.Set(1, 1, -5)
	got, err := Resample(src, 3, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got == src || got.At(1, 1) != -5 {
		t.Error("same-size resample should return an equal copy")
	}
}

func TestResampleRejectsUpscale(t *testing.T) {
	src := raster.NewBand(4, 4, raster.Uint8)
	for _, dims := range [][2]int{{5, 4}, {4, 5}, {0, 2}} {
		if _, err := Resample(src, dims[0], dims[1]); err == nil {
			t.Errorf("Resample to %dx%d succeeded", dims[0], dims[1])
		}
	}
}

func TestChainedLevelsMatchPlan(t *testing.T) {
	src := raster.NewBand(601, 399, raster.Uint8)
	levels, err := Plan(src.Width, src.Height, 0)
	if err != nil {
		t.Fatal(err)
	}
	cur := src
	for _, lvl := range levels[1:] {
		if cur, err = Resample(cur, lvl.Width, lvl.Height); err != nil {
			t.Fatalf("level %d: %v", lvl.Index, err)
		}
		if cur.Width != lvl.Width || cur.Height != lvl.Height {
			t.Fatalf("level %d is %dx%d, want %dx%d", lvl.Index, cur.Width, cur.Height, lvl.Width, lvl.Height)
		}
	}
}
