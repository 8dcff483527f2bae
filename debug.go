//go:build debug

package sftpfs

import "log"

func debug(fmt string, args ...interface{}) {
	log.Printf(fmt, args...)
}
