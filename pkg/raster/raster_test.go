package raster

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestDType_Size(t *testing.T) {
	tests := []struct {
		dtype DType
		size  int
	}{
		{Uint8, 1},
		{Int16, 2},
		{Uint16, 2},
		{Int32, 4},
		{Float32, 4},
		{DType("complex64"), 0},
		{DType(""), 0},
	}

	for _, tt := range tests {
		if got := tt.dtype.Size(); got != tt.size {
			t.Errorf("DType(%q).Size() = %d, want %d", tt.dtype, got, tt.size)
		}
	}
}

func TestParseDType(t *testing.T) {
	if _, err := ParseDType("int16"); err != nil {
		t.Errorf("ParseDType(int16) error = %v", err)
	}

	if _, err := ParseDType("float64"); err == nil {
		t.Error("ParseDType(float64) should fail")
	}
}

func TestSpec_Validate(t *testing.T) {
	tests := []struct {
		name      string
		spec      Spec
		wantError bool
	}{
		{"valid", Spec{Height: 100, Width: 200, DType: Uint16}, false},
		{"zero height", Spec{Height: 0, Width: 200, DType: Uint16}, true},
		{"negative width", Spec{Height: 100, Width: -1, DType: Uint16}, true},
		{"unknown dtype", Spec{Height: 100, Width: 200, DType: "int64"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if (err != nil) != tt.wantError {
				t.Errorf("Validate() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestSpec_ByteSize(t *testing.T) {
	spec := Spec{Height: 10000, Width: 10000, DType: Int32}
	if got := spec.ByteSize(); got != 400_000_000 {
		t.Errorf("ByteSize() = %d, want 400000000", got)
	}
}

func TestNewArray_ZeroFilled(t *testing.T) {
	arr, err := NewArray(Spec{Height: 4, Width: 3, DType: Int16})
	if err != nil {
		t.Fatalf("NewArray() error = %v", err)
	}

	for r := 0; r < 4; r++ {
		for c := 0; c < 3; c++ {
			if arr.At(r, c) != 0 {
				t.Fatalf("At(%d,%d) = %v, want 0", r, c, arr.At(r, c))
			}
		}
	}
}

func TestNewArrayFrom_SizeMismatch(t *testing.T) {
	_, err := NewArrayFrom(Spec{Height: 2, Width: 2, DType: Uint8}, make([]byte, 3))
	if err == nil {
		t.Error("NewArrayFrom() with short buffer should fail")
	}
}

func TestArray_At(t *testing.T) {
	t.Run("int16", func(t *testing.T) {
		pix := make([]byte, 4)
		neg := int16(-12345)
		binary.LittleEndian.PutUint16(pix[0:], uint16(neg))
		binary.LittleEndian.PutUint16(pix[2:], 4242)

		arr, err := NewArrayFrom(Spec{Height: 1, Width: 2, DType: Int16}, pix)
		if err != nil {
			t.Fatalf("NewArrayFrom() error = %v", err)
		}

		if got := arr.At(0, 0); got != -12345 {
			t.Errorf("At(0,0) = %v, want -12345", got)
		}
		if got := arr.At(0, 1); got != 4242 {
			t.Errorf("At(0,1) = %v, want 4242", got)
		}
	})

	t.Run("float32", func(t *testing.T) {
		pix := make([]byte, 4)
		binary.LittleEndian.PutUint32(pix, math.Float32bits(1.5))

		arr, err := NewArrayFrom(Spec{Height: 1, Width: 1, DType: Float32}, pix)
		if err != nil {
			t.Fatalf("NewArrayFrom() error = %v", err)
		}

		if got := arr.At(0, 0); got != 1.5 {
			t.Errorf("At(0,0) = %v, want 1.5", got)
		}
	})
}

func TestArray_CopyRegion(t *testing.T) {
	dst, _ := NewArray(Spec{Height: 4, Width: 4, DType: Uint8})

	src, _ := NewArrayFrom(Spec{Height: 2, Width: 2, DType: Uint8}, []byte{1, 2, 3, 4})

	if err := dst.CopyRegion(1, 2, src); err != nil {
		t.Fatalf("CopyRegion() error = %v", err)
	}

	want := map[[2]int]float64{
		{1, 2}: 1, {1, 3}: 2,
		{2, 2}: 3, {2, 3}: 4,
	}
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			expected := want[[2]int{r, c}]
			if got := dst.At(r, c); got != expected {
				t.Errorf("At(%d,%d) = %v, want %v", r, c, got, expected)
			}
		}
	}
}

func TestArray_CopyRegion_Errors(t *testing.T) {
	dst, _ := NewArray(Spec{Height: 4, Width: 4, DType: Uint8})

	t.Run("out of bounds", func(t *testing.T) {
		src, _ := NewArrayFrom(Spec{Height: 2, Width: 2, DType: Uint8}, make([]byte, 4))
		if err := dst.CopyRegion(3, 3, src); err == nil {
			t.Error("CopyRegion() beyond bounds should fail")
		}
	})

	t.Run("dtype mismatch", func(t *testing.T) {
		src, _ := NewArrayFrom(Spec{Height: 1, Width: 1, DType: Int16}, make([]byte, 2))
		if err := dst.CopyRegion(0, 0, src); err == nil {
			t.Error("CopyRegion() with dtype mismatch should fail")
		}
	})
}
