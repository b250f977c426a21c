package engine

import (
	"fmt"
	"time"
)

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

func formatAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
