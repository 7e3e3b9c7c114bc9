package server

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"

	"github.com/google/uuid"
)

var errUnknownKey = errors.New("unknown key id")

// keyring holds the ephemeral RSA key the browser uses to encrypt secret
// request fields. It lives as long as the server.
type keyring struct {
	keyID string
	priv  *rsa.PrivateKey
}

func newKeyring() (*keyring, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return &keyring{keyID: "k-" + uuid.NewString(), priv: priv}, nil
}

// publicKey returns the key id and the base64 SPKI encoding of the public key.
func (k *keyring) publicKey() (string, string, error) {
	der, err := x509.MarshalPKIXPublicKey(&k.priv.PublicKey)
	if err != nil {
		return "", "", err
	}
	return k.keyID, base64.StdEncoding.EncodeToString(der), nil
}

func (k *keyring) decrypt(ciphertextB64, keyID string) (string, error) {
	if keyID != k.keyID {
		return "", errUnknownKey
	}
	ct, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", errors.New("invalid ciphertext encoding")
	}
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, k.priv, ct, nil)
	if err != nil {
		return "", errors.New("decrypt failed")
	}
	return string(pt), nil
}

// decryptFields decrypts in place the fields of the struct behind ptr that are
// tagged `secure:"rsa_oaep_b64" secure_key:"<KeyIDField>"`. Both string and
// map[string]string fields are supported. A field is only treated as
// ciphertext when its key id field is set, so local clients may send plain
// values.
func (k *keyring) decryptFields(ptr any) error {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("decryptFields expects a pointer to struct, got %T", ptr)
	}
	v := rv.Elem()
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() || sf.Tag.Get("secure") != "rsa_oaep_b64" {
			continue
		}
		kf := v.FieldByName(sf.Tag.Get("secure_key"))
		if !kf.IsValid() || kf.Kind() != reflect.String || kf.String() == "" {
			continue
		}
		keyID := kf.String()

		f := v.Field(i)
		switch {
		case f.Kind() == reflect.String:
			if f.String() == "" {
				continue
			}
			plain, err := k.decrypt(f.String(), keyID)
			if err != nil {
				return fmt.Errorf("%s: %w", sf.Name, err)
			}
			f.SetString(plain)

		case f.Kind() == reflect.Map && f.Type().Key().Kind() == reflect.String && f.Type().Elem().Kind() == reflect.String:
			iter := f.MapRange()
			for iter.Next() {
				if iter.Value().String() == "" {
					continue
				}
				plain, err := k.decrypt(iter.Value().String(), keyID)
				if err != nil {
					return fmt.Errorf("%s.%s: %w", sf.Name, iter.Key().String(), err)
				}
				f.SetMapIndex(iter.Key(), reflect.ValueOf(plain))
			}
		}
	}
	return nil
}
