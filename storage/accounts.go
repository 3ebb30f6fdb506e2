package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"housewatch/models"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var configKeyMonitoring = []byte("monitoring")

// AccountStore manages mailbox account persistence and the process-wide
// monitoring configuration. Credentials are encrypted at rest and never
// returned in cleartext by List or Get.
type AccountStore struct {
	db  *bbolt.DB
	key []byte
}

// NewAccountStore creates an account store using the given 32-byte AES key
func NewAccountStore(db *bbolt.DB, encryptionKey []byte) (*AccountStore, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(encryptionKey))
	}
	return &AccountStore{db: db, key: encryptionKey}, nil
}

// Add creates a new account from the given input
func (s *AccountStore) Add(input *models.AccountInput) (*models.Account, error) {
	if strings.TrimSpace(input.Name) == "" || strings.TrimSpace(input.Email) == "" || input.Password == "" {
		return nil, errors.New("name, email and password are required")
	}

	now := time.Now().UTC()
	account := &models.Account{
		ID:         uuid.New().String(),
		Name:       input.Name,
		Email:      input.Email,
		Password:   input.Password,
		IMAPServer: input.IMAPServer,
		IMAPPort:   input.IMAPPort,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if account.IMAPServer == "" {
		account.IMAPServer = "imap.gmail.com"
	}
	if account.IMAPPort == 0 {
		account.IMAPPort = 993
	}
	if input.IsActive != nil {
		account.IsActive = *input.IsActive
	}

	if err := s.saveAccount(account); err != nil {
		return nil, err
	}

	return redact(account), nil
}

// Update mutates an existing account. An empty input password preserves the
// stored secret; clearing a credential is not supported.
func (s *AccountStore) Update(id string, input *models.AccountInput) (*models.Account, error) {
	account, err := s.loadAccount(id)
	if err != nil {
		return nil, err
	}

	if input.Name != "" {
		account.Name = input.Name
	}
	if input.Email != "" {
		account.Email = input.Email
	}
	if input.Password != "" {
		account.Password = input.Password
	}
	if input.IMAPServer != "" {
		account.IMAPServer = input.IMAPServer
	}
	if input.IMAPPort != 0 {
		account.IMAPPort = input.IMAPPort
	}
	if input.IsActive != nil {
		account.IsActive = *input.IsActive
	}
	account.UpdatedAt = time.Now().UTC()

	if err := s.saveAccount(account); err != nil {
		return nil, err
	}

	return redact(account), nil
}

// Remove deletes an account. Removing an unknown id is a no-op success so a
// delete racing a just-finished poll cycle cannot fail.
func (s *AccountStore) Remove(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketAccounts).Delete([]byte(id)); err != nil {
			return err
		}
		// Drop the poll watermark along with the account
		return tx.Bucket(bucketWatermarks).Delete([]byte(id))
	})
}

// Get retrieves a single account with its credential redacted
func (s *AccountStore) Get(id string) (*models.Account, error) {
	account, err := s.loadAccount(id)
	if err != nil {
		return nil, err
	}
	return redact(account), nil
}

// List retrieves all accounts, credentials redacted, oldest first
func (s *AccountStore) List() ([]*models.Account, error) {
	var accounts []*models.Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAccounts).ForEach(func(k, v []byte) error {
			var account models.Account
			if err := json.Unmarshal(v, &account); err != nil {
				return fmt.Errorf("failed to unmarshal account %s: %v", k, err)
			}
			accounts = append(accounts, redact(&account))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
	return accounts, nil
}

// Credentials retrieves an account with its password decrypted, for opening
// a mailbox session. Callers must not hand the result back to the API layer.
func (s *AccountStore) Credentials(id string) (*models.Account, error) {
	return s.loadAccount(id)
}

// ActiveAccounts retrieves the accounts eligible for polling, with decrypted
// credentials
func (s *AccountStore) ActiveAccounts() ([]*models.Account, error) {
	var accounts []*models.Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAccounts).ForEach(func(k, v []byte) error {
			var account models.Account
			if err := json.Unmarshal(v, &account); err != nil {
				return fmt.Errorf("failed to unmarshal account %s: %v", k, err)
			}
			if !account.IsActive {
				return nil
			}
			password, err := decrypt(account.Password, s.key)
			if err != nil {
				return fmt.Errorf("failed to decrypt password for %s: %v", k, err)
			}
			account.Password = password
			accounts = append(accounts, &account)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
	return accounts, nil
}

// SetMonitoringConfig persists the process-wide monitoring configuration
func (s *AccountStore) SetMonitoringConfig(cfg *models.MonitoringConfig) error {
	cfg.Clamp()
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal monitoring config: %v", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketConfig).Put(configKeyMonitoring, data)
	})
}

// MonitoringConfig retrieves the monitoring configuration, or nil when none
// has been stored yet
func (s *AccountStore) MonitoringConfig() (*models.MonitoringConfig, error) {
	var cfg *models.MonitoringConfig
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketConfig).Get(configKeyMonitoring)
		if data == nil {
			return nil
		}
		cfg = &models.MonitoringConfig{}
		return json.Unmarshal(data, cfg)
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// saveAccount encrypts the credential and persists the account
func (s *AccountStore) saveAccount(account *models.Account) error {
	stored := *account
	encrypted, err := encrypt(account.Password, s.key)
	if err != nil {
		return fmt.Errorf("failed to encrypt password: %v", err)
	}
	stored.Password = encrypted

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %v", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAccounts).Put([]byte(account.ID), data)
	})
}

// loadAccount loads an account and decrypts its credential
func (s *AccountStore) loadAccount(id string) (*models.Account, error) {
	var account *models.Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketAccounts).Get([]byte(id))
		if data == nil {
			return errors.New("account not found")
		}
		account = &models.Account{}
		return json.Unmarshal(data, account)
	})
	if err != nil {
		return nil, err
	}

	password, err := decrypt(account.Password, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt password: %v", err)
	}
	account.Password = password
	return account, nil
}

// redact strips the credential, leaving a presence flag only
func redact(account *models.Account) *models.Account {
	out := *account
	out.HasPassword = out.Password != ""
	out.Password = ""
	return &out
}

// encrypt encrypts plaintext using AES-GCM
func encrypt(plaintext string, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf("%x", ciphertext), nil
}

// decrypt decrypts ciphertext using AES-GCM
func decrypt(ciphertextHex string, key []byte) (string, error) {
	var ciphertext []byte
	if _, err := fmt.Sscanf(ciphertextHex, "%x", &ciphertext); err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}
