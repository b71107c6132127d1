package contract

import (
	"fmt"
	"os"
)

// ReadImage 读取图像全部字节；超过 limit（>0 时生效）返回 ErrTooLarge。
// 大小检查先于读取，超限时不读内容。
func ReadImage(path string, limit int64) ([]byte, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !st.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrInvalidInput, path)
	}
	if limit > 0 && st.Size() > limit {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, path, st.Size(), limit)
	}
	return os.ReadFile(path)
}
