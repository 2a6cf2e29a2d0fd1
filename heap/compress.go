package heap

import (
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// ZstdCompressor implements Compressor with klauspost/compress/zstd,
// favoring compression ratio over raw throughput.
type ZstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstdCompressor builds a ZstdCompressor with default encoder/decoder
// settings. Callers should Close it once done to release the decoder's
// background goroutines.
func NewZstdCompressor() (*ZstdCompressor, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &ZstdCompressor{enc: enc, dec: dec}, nil
}

// Compress implements Compressor.
func (c *ZstdCompressor) Compress(dst, src []byte) []byte {
	return c.enc.EncodeAll(src, dst)
}

// Decompress implements Compressor.
func (c *ZstdCompressor) Decompress(dst, src []byte) ([]byte, error) {
	return c.dec.DecodeAll(src, dst)
}

// Close releases the encoder/decoder's resources.
func (c *ZstdCompressor) Close() {
	c.enc.Close()
	c.dec.Close()
}

// SnappyCompressor implements Compressor with golang/snappy: faster and
// lighter than zstd, at a worse compression ratio. Fits large-object
// workloads where store/load latency matters more than on-disk size.
type SnappyCompressor struct{}

// Compress implements Compressor.
func (SnappyCompressor) Compress(dst, src []byte) []byte { return snappy.Encode(dst, src) }

// Decompress implements Compressor.
func (SnappyCompressor) Decompress(dst, src []byte) ([]byte, error) { return snappy.Decode(dst, src) }
