package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recoveryRecordVersionV1 = 1
)

// RecoveryState is the lifecycle stage of a recovery record. Idle and
// Consumed are represented by the absence of a record.
type RecoveryState uint8

const (
	RecoveryRequested RecoveryState = 1
	RecoveryVerified  RecoveryState = 2
)

var (
	ErrRecoveryNotFound         = errors.New("recovery record not found")
	ErrRecoveryExpired          = errors.New("recovery record expired")
	ErrRecoveryOTPMismatch      = errors.New("recovery otp mismatch")
	ErrRecoveryAttemptsExceeded = errors.New("recovery attempts exceeded")
	ErrRecoveryRedisUnavailable = errors.New("recovery redis unavailable")
)

type RecoveryRecord struct {
	State          RecoveryState
	IdentityID     string
	OTPHash        [32]byte
	OTPExpiresAt   int64
	TokenHash      [32]byte
	TokenExpiresAt int64
	Attempts       uint16
}

// RecoveryStore keeps one record per email. The Redis TTL of a record is its
// logical expiry plus a grace window, so a late caller is told the record
// expired instead of that it never existed.
type RecoveryStore struct {
	redis  redis.UniversalClient
	prefix string
	grace  time.Duration
}

func NewRecoveryStore(redisClient redis.UniversalClient, prefix string, grace time.Duration) *RecoveryStore {
	if prefix == "" {
		prefix = "rr"
	}
	if grace < 0 {
		grace = 0
	}
	return &RecoveryStore{
		redis:  redisClient,
		prefix: prefix,
		grace:  grace,
	}
}

func (s *RecoveryStore) key(email string) string {
	return s.prefix + ":e:" + email
}

func (s *RecoveryStore) tokenKey(tokenHash [32]byte) string {
	return s.prefix + ":t:" + base64.RawURLEncoding.EncodeToString(tokenHash[:])
}

// Upsert replaces any record for email with a fresh Requested record. An
// earlier OTP or reset token for the same email stops working.
func (s *RecoveryStore) Upsert(ctx context.Context, email string, record *RecoveryRecord, now time.Time) error {
	record.State = RecoveryRequested
	record.Attempts = 0
	record.TokenHash = [32]byte{}
	record.TokenExpiresAt = 0

	encoded, err := encodeRecoveryRecord(record)
	if err != nil {
		return err
	}

	ttl := time.Unix(record.OTPExpiresAt, 0).Sub(now) + s.grace
	if ttl <= 0 {
		return ErrRecoveryExpired
	}

	if err := s.redis.Set(ctx, s.key(email), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRecoveryRedisUnavailable, err)
	}
	return nil
}

// Verify checks providedHash against the pending OTP and, on a match, moves
// the record to Verified carrying tokenHash. The comparison and transition
// run inside one WATCH/MULTI transaction so only one caller can win.
func (s *RecoveryStore) Verify(
	ctx context.Context,
	email string,
	providedHash [32]byte,
	tokenHash [32]byte,
	tokenTTL time.Duration,
	maxAttempts int,
	now time.Time,
) (*RecoveryRecord, error) {
	const maxRetries = 4
	key := s.key(email)

	for i := 0; i < maxRetries; i++ {
		var verified *RecoveryRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeRecoveryRecord(data)
			if err != nil {
				return err
			}

			// The OTP hash is discarded on verification, so a Verified
			// record can never match a second time.
			if record.State != RecoveryRequested {
				return ErrRecoveryNotFound
			}

			if now.Unix() > record.OTPExpiresAt {
				if err := deleteInTx(ctx, tx, key); err != nil {
					return err
				}
				return ErrRecoveryExpired
			}

			if subtle.ConstantTimeCompare(record.OTPHash[:], providedHash[:]) != 1 {
				record.Attempts++
				if maxAttempts > 0 && int(record.Attempts) >= maxAttempts {
					if err := deleteInTx(ctx, tx, key); err != nil {
						return err
					}
					return ErrRecoveryAttemptsExceeded
				}

				updated, err := encodeRecoveryRecord(record)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.SetArgs(ctx, key, updated, redis.SetArgs{KeepTTL: true})
					return nil
				})
				if err != nil {
					return err
				}
				return ErrRecoveryOTPMismatch
			}

			record.State = RecoveryVerified
			record.OTPHash = [32]byte{}
			record.TokenHash = tokenHash
			record.TokenExpiresAt = now.Add(tokenTTL).Unix()

			updated, err := encodeRecoveryRecord(record)
			if err != nil {
				return err
			}

			ttl := tokenTTL + s.grace
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				pipe.Set(ctx, s.tokenKey(tokenHash), email, ttl)
				return nil
			})
			if err != nil {
				return err
			}

			verified = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, mapRecoveryError(err)
		}

		return verified, nil
	}

	return nil, ErrRecoveryNotFound
}

// Consume claims the Verified record bound to tokenHash and deletes it. A
// token is honoured at most once even under concurrent calls.
func (s *RecoveryStore) Consume(ctx context.Context, tokenHash [32]byte, now time.Time) (*RecoveryRecord, error) {
	const maxRetries = 4
	tokenKey := s.tokenKey(tokenHash)

	email, err := s.redis.Get(ctx, tokenKey).Result()
	if err != nil {
		return nil, mapRecoveryError(err)
	}
	key := s.key(email)

	for i := 0; i < maxRetries; i++ {
		var claimed *RecoveryRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeRecoveryRecord(data)
			if err != nil {
				return err
			}

			if record.State != RecoveryVerified ||
				subtle.ConstantTimeCompare(record.TokenHash[:], tokenHash[:]) != 1 {
				return ErrRecoveryNotFound
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key, tokenKey)
				return nil
			})
			if err != nil {
				return err
			}

			if now.Unix() > record.TokenExpiresAt {
				return ErrRecoveryExpired
			}

			claimed = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, mapRecoveryError(err)
		}

		return claimed, nil
	}

	return nil, ErrRecoveryNotFound
}

// Peek reports whether tokenHash names a live Verified record without
// changing it.
func (s *RecoveryStore) Peek(ctx context.Context, tokenHash [32]byte, now time.Time) (*RecoveryRecord, error) {
	email, err := s.redis.Get(ctx, s.tokenKey(tokenHash)).Result()
	if err != nil {
		return nil, mapRecoveryError(err)
	}

	data, err := s.redis.Get(ctx, s.key(email)).Bytes()
	if err != nil {
		return nil, mapRecoveryError(err)
	}

	record, err := decodeRecoveryRecord(data)
	if err != nil {
		return nil, err
	}
	if record.State != RecoveryVerified ||
		subtle.ConstantTimeCompare(record.TokenHash[:], tokenHash[:]) != 1 {
		return nil, ErrRecoveryNotFound
	}
	if now.Unix() > record.TokenExpiresAt {
		return nil, ErrRecoveryExpired
	}

	return record, nil
}

// Get returns the record for email, including ones past their logical
// expiry but still inside the grace window.
func (s *RecoveryStore) Get(ctx context.Context, email string) (*RecoveryRecord, error) {
	data, err := s.redis.Get(ctx, s.key(email)).Bytes()
	if err != nil {
		return nil, mapRecoveryError(err)
	}
	return decodeRecoveryRecord(data)
}

func (s *RecoveryStore) Delete(ctx context.Context, email string) error {
	if err := s.redis.Del(ctx, s.key(email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRecoveryRedisUnavailable, err)
	}
	return nil
}

func deleteInTx(ctx context.Context, tx *redis.Tx, key string) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		return nil
	})
	return err
}

func mapRecoveryError(err error) error {
	switch {
	case errors.Is(err, redis.Nil):
		return ErrRecoveryNotFound
	case errors.Is(err, ErrRecoveryNotFound),
		errors.Is(err, ErrRecoveryExpired),
		errors.Is(err, ErrRecoveryOTPMismatch),
		errors.Is(err, ErrRecoveryAttemptsExceeded),
		errors.Is(err, errCorruptRecord):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrRecoveryRedisUnavailable, err)
	}
}

var errCorruptRecord = errors.New("corrupt recovery record")

func encodeRecoveryRecord(record *RecoveryRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recoveryRecordVersionV1)
	buf.WriteByte(byte(record.State))

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.OTPExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.TokenExpiresAt); err != nil {
		return nil, err
	}

	if len(record.IdentityID) > 65535 {
		return nil, errors.New("recovery record identity id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.IdentityID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.IdentityID)
	buf.Write(record.OTPHash[:])
	buf.Write(record.TokenHash[:])

	return buf.Bytes(), nil
}

func decodeRecoveryRecord(data []byte) (*RecoveryRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, errCorruptRecord
	}
	if version != recoveryRecordVersionV1 {
		return nil, errCorruptRecord
	}

	state, err := reader.ReadByte()
	if err != nil {
		return nil, errCorruptRecord
	}

	record := &RecoveryRecord{State: RecoveryState(state)}

	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, errCorruptRecord
	}
	if err := binary.Read(reader, binary.BigEndian, &record.OTPExpiresAt); err != nil {
		return nil, errCorruptRecord
	}
	if err := binary.Read(reader, binary.BigEndian, &record.TokenExpiresAt); err != nil {
		return nil, errCorruptRecord
	}

	var idLen uint16
	if err := binary.Read(reader, binary.BigEndian, &idLen); err != nil {
		return nil, errCorruptRecord
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(reader, id); err != nil {
		return nil, errCorruptRecord
	}
	record.IdentityID = string(id)

	if _, err := io.ReadFull(reader, record.OTPHash[:]); err != nil {
		return nil, errCorruptRecord
	}
	if _, err := io.ReadFull(reader, record.TokenHash[:]); err != nil {
		return nil, errCorruptRecord
	}

	return record, nil
}
