// Package integrity produces and verifies the cryptographic hashes that
// make a published Winner snapshot independently checkable: anyone holding
// the signing key's public half can confirm a winner row was produced from
// the quiz and attempt data it claims, and was not altered after
// publication. Adapted from the teacher's attestation package (agent
// binary attestation) for result-snapshot integrity instead.
package integrity

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dailyquiz/quizsvc/store"
)

// Signer computes and signs integrity hashes at finalize time.
type Signer struct {
	privateKey *rsa.PrivateKey
}

func NewSigner(privateKey *rsa.PrivateKey) *Signer {
	return &Signer{privateKey: privateKey}
}

// QuizIntegrityMessage canonicalizes a quiz's immutable question set into a
// deterministic string, independent of map/slice ordering, so re-hashing a
// day's quiz always reproduces the same digest.
func QuizIntegrityMessage(q *store.Quiz) string {
	ids := append([]string(nil), q.QuestionIDs...)
	sort.Strings(ids)
	return fmt.Sprintf("%s|%s|%s", q.Date, q.ClassGrade, strings.Join(ids, ","))
}

// AttemptIntegrityMessage canonicalizes one attempt's answer trail.
func AttemptIntegrityMessage(a *store.Attempt) string {
	var sb strings.Builder
	sb.WriteString(a.UserID)
	sb.WriteByte('|')
	sb.WriteString(a.Date)
	sb.WriteByte('|')
	for slot, ans := range a.Answers {
		if slot > 0 {
			sb.WriteByte(',')
		}
		if ans == nil {
			sb.WriteString("_")
		} else {
			sb.WriteString(strconv.Itoa(*ans))
		}
	}
	return sb.String()
}

// Sign hashes message with SHA-256 and signs the digest, returning a
// base64-encoded signature suitable for storage in a Winner row.
func (s *Signer) Sign(message string) (string, error) {
	hashed := sha256.Sum256([]byte(message))
	signature, err := rsa.SignPKCS1v15(rand.Reader, s.privateKey, crypto.SHA256, hashed[:])
	if err != nil {
		return "", fmt.Errorf("integrity: failed to sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(signature), nil
}

// SignQuiz returns the quizIntegrityHash for a Winner row.
func (s *Signer) SignQuiz(q *store.Quiz) (string, error) {
	return s.Sign(QuizIntegrityMessage(q))
}

// SignAttempt returns the attemptIntegrityHash for a Winner row.
func (s *Signer) SignAttempt(a *store.Attempt) (string, error) {
	return s.Sign(AttemptIntegrityMessage(a))
}

// Verifier checks integrity hashes published in a Winner row against the
// underlying quiz/attempt data, independent of the Finalizer that produced
// them.
type Verifier struct {
	publicKey *rsa.PublicKey
}

// NewVerifier parses an RSA public key from PEM.
func NewVerifier(publicKeyPEM string) (*Verifier, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, errors.New("integrity: failed to parse PEM block containing public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("integrity: failed to parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("integrity: not an RSA public key")
	}
	return &Verifier{publicKey: rsaPub}, nil
}

// Verify checks signatureB64 against message, returning an error if the
// signature does not verify.
func (v *Verifier) Verify(message, signatureB64 string) error {
	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("integrity: invalid signature encoding: %w", err)
	}
	hashed := sha256.Sum256([]byte(message))
	if err := rsa.VerifyPKCS1v15(v.publicKey, crypto.SHA256, hashed[:], signature); err != nil {
		return fmt.Errorf("integrity: signature verification failed: %w", err)
	}
	return nil
}

// VerifyWinner re-derives both canonical messages from q and a and checks
// w's two hashes against them.
func (v *Verifier) VerifyWinner(w *store.Winner, q *store.Quiz, a *store.Attempt) error {
	if err := v.Verify(QuizIntegrityMessage(q), w.QuizIntegrityHash); err != nil {
		return err
	}
	return v.Verify(AttemptIntegrityMessage(a), w.AttemptIntegrityHash)
}

// ConstantTimeEqual compares two hash strings without leaking timing
// information about where they first differ.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
