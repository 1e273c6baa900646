//go:build windows

package filesystem

import "golang.org/x/sys/windows"

// replaceFile 以 MoveFileEx 覆盖目标，WRITE_THROUGH 保证返回前已落盘。
func replaceFile(tmpPath, dest string) error {
	from, err := windows.UTF16PtrFromString(tmpPath)
	if err != nil {
		return err
	}
	to, err := windows.UTF16PtrFromString(dest)
	if err != nil {
		return err
	}
	return windows.MoveFileEx(from, to, windows.MOVEFILE_REPLACE_EXISTING|windows.MOVEFILE_WRITE_THROUGH)
}

func syncParent(string) error { return nil }
