package vcnjpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/vcnjpeg/internal/parser"
)

func TestImageInfo(t *testing.T) {
	tests := []struct {
		name  string
		sub   parser.Subsampling
		comps int
		w, h  int
		want  ImageInfo
	}{
		{"444", parser.Sub444, 3, 64, 48, ImageInfo{3, Subsampling444, [4]int{64, 64, 64}, [4]int{48, 48, 48}}},
		{"440", parser.Sub440, 3, 64, 45, ImageInfo{3, Subsampling440, [4]int{64, 64, 64}, [4]int{45, 23, 23}}},
		{"422", parser.Sub422, 3, 33, 16, ImageInfo{3, Subsampling422, [4]int{33, 17, 17}, [4]int{16, 16, 16}}},
		{"420", parser.Sub420, 3, 99, 67, ImageInfo{3, Subsampling420, [4]int{99, 50, 50}, [4]int{67, 34, 34}}},
		{"411", parser.Sub411, 3, 98, 32, ImageInfo{3, Subsampling411, [4]int{98, 25, 25}, [4]int{32, 32, 32}}},
		{"400", parser.Sub400, 1, 64, 64, ImageInfo{1, Subsampling400, [4]int{64}, [4]int{64}}},
		{"unknown", parser.SubUnknown, 3, 64, 64, ImageInfo{3, SubsamplingUnknown, [4]int{64}, [4]int{64}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &parser.Params{Subsampling: tt.sub, Picture: parser.Picture{Width: tt.w, Height: tt.h, NumComponents: tt.comps}}
			assert.Equal(t, tt.want, imageInfo(p))
		})
	}
}

func TestSubsamplingString(t *testing.T) {
	assert.Equal(t, "4:2:0", Subsampling420.String())
	assert.Equal(t, "4:0:0", Subsampling400.String())
	assert.Equal(t, "unknown", SubsamplingUnknown.String())
	assert.Equal(t, SubsamplingUnknown, subsampling(parser.SubUnknown))
	assert.Equal(t, Subsampling411, subsampling(parser.Sub411))
}

func TestOutputFormatString(t *testing.T) {
	assert.Equal(t, "native", Native.String())
	assert.Equal(t, "yuv-planar", YUVPlanar.String())
	assert.Equal(t, "rgb-planar", RGBPlanar.String())
	assert.False(t, OutputFormat(5).valid())
	assert.False(t, OutputFormat(-1).valid())
}

func TestCropValid(t *testing.T) {
	assert.False(t, Crop{}.valid(64, 64))
	assert.True(t, Crop{4, 2, 68, 34}.valid(128, 96))
	assert.False(t, Crop{0, 0, 130, 10}.valid(128, 96))
	assert.False(t, Crop{10, 10, 10, 20}.valid(128, 96))
	assert.False(t, Crop{10, 20, 20, 10}.valid(128, 96))
}

func TestChannelSizes(t *testing.T) {
	info := func(sub Subsampling, w, h int) ImageInfo {
		p := &parser.Params{Subsampling: parser.Subsampling(sub), Picture: parser.Picture{Width: w, Height: h, NumComponents: 3}}
		if sub == Subsampling400 {
			p.Picture.NumComponents = 1
		}

		return imageInfo(p)
	}

	const mib4 = 4 << 20

	tests := []struct {
		name   string
		info   ImageInfo
		format OutputFormat
		crop   Crop
		want   []ChannelSize
	}{
		{"native 444", info(Subsampling444, 64, 48), Native, Crop{}, []ChannelSize{{64, 3072}, {64, 3072}, {64, 3072}}},
		{"native 440", info(Subsampling440, 64, 48), Native, Crop{}, []ChannelSize{{64, 3072}, {64, 1536}, {64, 1536}}},
		{"native 422", info(Subsampling422, 70, 45), Native, Crop{}, []ChannelSize{{140, 6300}}},
		{"native 420", info(Subsampling420, 72, 40), Native, Crop{}, []ChannelSize{{72, 2880}, {72, 1440}}},
		{"native 400", info(Subsampling400, 64, 64), Native, Crop{}, []ChannelSize{{64, 4096}}},
		{"yuv planar 420", info(Subsampling420, 99, 67), YUVPlanar, Crop{}, []ChannelSize{{99, 6633}, {50, 1700}, {50, 1700}}},
		{"yuv planar 420 crop", info(Subsampling420, 128, 96), YUVPlanar, Crop{4, 2, 68, 34}, []ChannelSize{{64, 2048}, {32, 512}, {32, 512}}},
		{"yuv planar 422 crop", info(Subsampling422, 128, 96), YUVPlanar, Crop{4, 2, 68, 34}, []ChannelSize{{64, 2048}, {32, 1024}, {32, 1024}}},
		{"yuv planar 440 crop", info(Subsampling440, 128, 96), YUVPlanar, Crop{4, 2, 68, 34}, []ChannelSize{{64, 2048}, {64, 1024}, {64, 1024}}},
		{"yuv planar 444 crop", info(Subsampling444, 128, 96), YUVPlanar, Crop{4, 2, 68, 34}, []ChannelSize{{64, 2048}, {64, 2048}, {64, 2048}}},
		{"yuv planar 400", info(Subsampling400, 64, 64), YUVPlanar, Crop{}, []ChannelSize{{64, 4096}}},
		{"y", info(Subsampling422, 70, 45), Y, Crop{}, []ChannelSize{{70, 3150}}},
		{"y crop", info(Subsampling422, 70, 45), Y, Crop{0, 0, 10, 4}, []ChannelSize{{10, 40}}},
		{"rgb", info(Subsampling420, 64, 64), RGB, Crop{}, []ChannelSize{{192, mib4}}},
		{"rgb large", info(Subsampling444, 1920, 1080), RGB, Crop{}, []ChannelSize{{5760, 2 * mib4}}},
		{"rgb planar", info(Subsampling420, 64, 64), RGBPlanar, Crop{}, []ChannelSize{{64, mib4}, {64, mib4}, {64, mib4}}},
		{"invalid crop", info(Subsampling444, 64, 48), Native, Crop{0, 0, 100, 100}, []ChannelSize{{64, 3072}, {64, 3072}, {64, 3072}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ChannelSizes(tt.info, tt.format, tt.crop)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ChannelSizes(info(Subsampling411, 64, 64), Native, Crop{})
	require.ErrorIs(t, err, ErrJPEGNotSupported)

	_, err = ChannelSizes(info(Subsampling444, 64, 64), OutputFormat(9), Crop{})
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestNewImage(t *testing.T) {
	img, err := NewImage(ImageInfo{3, Subsampling420, [4]int{72, 36, 36}, [4]int{40, 20, 20}}, Native, Crop{})
	require.NoError(t, err)

	assert.Equal(t, [4]int{72, 72}, img.Pitch)
	assert.Len(t, img.Channel[0], 72*40)
	assert.Len(t, img.Channel[1], 72*20)
	assert.Nil(t, img.Channel[2])

	_, err = NewImage(ImageInfo{Subsampling: SubsamplingUnknown}, Native, Crop{})
	require.ErrorIs(t, err, ErrJPEGNotSupported)
}
