package identity

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Word lists for readable device names
var adjectives = []string{
	"happy", "sunny", "brave", "bright", "cool", "swift", "clever", "jolly",
	"mighty", "lucky", "magic", "bouncy", "cheerful", "daring", "eager", "gentle",
	"lively", "merry", "noble", "quick", "royal", "snappy", "zippy", "cosmic",
}

var nouns = []string{
	"dragon", "tiger", "eagle", "dolphin", "panda", "lion", "wolf", "bear",
	"fox", "hawk", "phoenix", "rocket", "wizard", "knight", "robot", "ranger",
	"captain", "comet", "thunder", "tornado", "storm", "spirit", "racer", "otter",
}

// GenerateDeviceID returns a random device name such as "happy-otter-4821".
func GenerateDeviceID() (string, error) {
	adjective, err := randomElement(adjectives)
	if err != nil {
		return "", err
	}
	noun, err := randomElement(nouns)
	if err != nil {
		return "", err
	}
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%04d", adjective, noun, n.Int64()), nil
}

// randomElement picks a random element from a string slice
func randomElement(slice []string) (string, error) {
	if len(slice) == 0 {
		return "", nil
	}
	num, err := rand.Int(rand.Reader, big.NewInt(int64(len(slice))))
	if err != nil {
		return "", err
	}
	return slice[num.Int64()], nil
}
