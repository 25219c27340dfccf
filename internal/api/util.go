package api

import "time"

// nowFloat returns the current time as float seconds since epoch, the
// same timestamp convention used throughout the Store and Credit Engine.
func nowFloat() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
