package gateway

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

const (
	AlgorithmHMACSHA256 = "hmac-sha256"
	// AlgorithmMD5 is the unkeyed digest some gateways still require for
	// inquiry requests. Only use it when the merchant contract mandates it.
	AlgorithmMD5 = "md5"
)

// Sign computes the outbound inquiry signature over
// merchantCode + orderCode + amount + secret.
func Sign(algorithm, merchantCode, orderCode string, amount int64, secret string) (string, error) {
	payload := merchantCode + orderCode + strconv.FormatInt(amount, 10)
	switch algorithm {
	case AlgorithmHMACSHA256, "":
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(payload + secret))
		return hex.EncodeToString(mac.Sum(nil)), nil
	case AlgorithmMD5:
		sum := md5.Sum([]byte(payload + secret))
		return hex.EncodeToString(sum[:]), nil
	}
	return "", ErrUnknownAlgorithm
}
