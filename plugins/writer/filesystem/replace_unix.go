//go:build !windows

package filesystem

import (
	"os"

	"golang.org/x/sys/unix"
)

// replaceFile: POSIX rename 本身原子，目标存在时直接覆盖。
func replaceFile(tmpPath, dest string) error {
	return os.Rename(tmpPath, dest)
}

// syncParent 持久化目录项；EINVAL 表示文件系统不支持目录 fsync，忽略。
func syncParent(dir string) error {
	fd, err := unix.Open(dir, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	if err := unix.Fsync(fd); err != nil && err != unix.EINVAL {
		return err
	}
	return nil
}
