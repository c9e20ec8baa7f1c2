package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"go.uber.org/zap"
)

const (
	// socketIOBinaryType Socket.IO v4 二进制类型指示字节
	socketIOBinaryType = 0x04
	// zlibHeader zlib 头部 CMF 字节（deflate, 32K 窗口）
	zlibHeader = 0x78
)

// ErrDecompress 解压失败
var ErrDecompress = errors.New("decompression failed")

// Decompressor 将设备上报的二进制负载还原为 JSON 字节
type Decompressor struct {
	logger *zap.Logger
}

// NewDecompressor 创建解压器
func NewDecompressor(logger *zap.Logger) *Decompressor {
	return &Decompressor{logger: logger}
}

// Decompress 自动识别负载格式：
//  1. 0x04 0x78 开头：去掉类型字节后 inflate
//  2. 0x78 开头：直接 inflate，失败后去掉首字节重试
//  3. 其他：视为未压缩文本原样返回
//
// 前两种情况都会在失败前尝试另一种帧格式。
func (d *Decompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) > 2 && data[0] == socketIOBinaryType && data[1] == zlibHeader {
		d.logger.Debug("Detected Socket.IO v4 binary type byte before zlib header")
		out, err := inflate(data[1:])
		if err == nil {
			return out, nil
		}
		if retry, retryErr := inflate(data); retryErr == nil {
			return retry, nil
		}
		return nil, fmt.Errorf("%w: socket.io v4 binary payload: %v", ErrDecompress, err)
	}

	if len(data) > 0 && data[0] == zlibHeader {
		out, err := inflate(data)
		if err == nil {
			return out, nil
		}
		d.logger.Debug("Failed to inflate zlib payload, retrying without first byte", zap.Error(err))
		if len(data) > 1 {
			if retry, retryErr := inflate(data[1:]); retryErr == nil {
				return retry, nil
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
	}

	d.logger.Debug("Payload is not zlib compressed, passing through", zap.Int("size", len(data)))
	return data, nil
}

// inflate 完整读取 zlib 流；流未结束即 EOF 视为数据损坏
func inflate(compressed []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	out := bytes.NewBuffer(make([]byte, 0, len(compressed)*2))
	// 截断的流返回 io.ErrUnexpectedEOF，校验和不符返回 zlib.ErrChecksum
	if _, err := io.Copy(out, reader); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
