package imaging

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"math/rand"
	"strings"
	"testing"

	"duochat/errors"
	"duochat/mocks"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// noiseImage defeats JPEG's entropy coding so size actually tracks quality
// and resolution.
func noiseImage(w, h int) image.Image {
	rng := rand.New(rand.NewSource(42))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}
	return img
}

func TestCompressNeverExceedsBudget(t *testing.T) {
	req := require.New(t)
	img := noiseImage(256, 256)

	for _, budget := range []int{16 * 1024, 48 * 1024, 256 * 1024} {
		data, err := Compress(img, budget, slog.Default())
		req.NoError(err)
		req.NotEmpty(data)
		req.LessOrEqual(len(data), budget)

		decoded, err := jpeg.Decode(bytes.NewReader(data))
		req.NoError(err)
		req.NotNil(decoded)
	}
}

func TestCompressPrefersHigherQualityWhenRoomAllows(t *testing.T) {
	req := require.New(t)
	img := noiseImage(128, 128)

	tight, err := Compress(img, 8*1024, slog.Default())
	req.NoError(err)
	roomy, err := Compress(img, 128*1024, slog.Default())
	req.NoError(err)
	req.Greater(len(roomy), len(tight))
}

func TestCompressRejectsImpossibleBudget(t *testing.T) {
	req := require.New(t)

	_, err := Compress(noiseImage(512, 512), 200, slog.Default())
	req.ErrorIs(err, errors.ErrImageTooLarge)

	_, err = Compress(noiseImage(16, 16), 0, slog.Default())
	req.ErrorIs(err, errors.ErrImageTooLarge)
}

func TestUploaderRoundTrip(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	blobs := mocks.NewMockBlobStore(ctrl)

	var storedPath string
	blobs.EXPECT().
		Upload(gomock.Any(), "chat-images", gomock.Any(), gomock.Any(), "image/jpeg").
		DoAndReturn(func(_ context.Context, _ string, path string, data []byte, _ string) error {
			storedPath = path
			req.NotEmpty(data)
			return nil
		})
	blobs.EXPECT().
		PublicURL("chat-images", gomock.Any()).
		DoAndReturn(func(bucket, path string) string {
			return "http://blobs.local/" + bucket + "/" + path
		})

	uploader := NewUploader(blobs, "chat-images", 64*1024, nil, slog.Default())
	ref, err := uploader.Upload(context.Background(), noiseImage(64, 64))
	req.NoError(err)
	req.True(strings.HasSuffix(storedPath, ".jpg"))
	req.Equal("http://blobs.local/chat-images/"+storedPath, ref)
}

func TestUploaderWrapsTransportFailure(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	blobs := mocks.NewMockBlobStore(ctrl)

	blobs.EXPECT().
		Upload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(context.DeadlineExceeded)

	uploader := NewUploader(blobs, "chat-images", 64*1024, nil, slog.Default())
	_, err := uploader.Upload(context.Background(), noiseImage(32, 32))
	req.ErrorIs(err, errors.ErrUpload)
}
