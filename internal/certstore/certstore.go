// Copyright 2022 The Armored Witness OS authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package certstore is the CSR/Certificate Store Builder (§4.9). It issues
// the self-signed DeviceID certificate on identity change, appends it to
// the data store's certBag, and assembles the per-boot image certificate
// store by concatenating the hub certificate (if present), the DeviceID
// certificate, and a freshly issued AliasID certificate. Grounded on
// lz_core.c's lz_core_create_device_id_csr / lz_core_create_cert_store.
package certstore

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"

	"github.com/syafiq/lazarus/api"
	"github.com/syafiq/lazarus/internal/lzconst"
	"github.com/syafiq/lazarus/internal/lzcrypto"
	"github.com/syafiq/lazarus/internal/lzerr"
)

const (
	organization = "Lazarus"
	country      = "DE"
)

// serialFromPubKey derives a certificate serial number deterministically
// from the subject public key's DER bytes, per §4.9's "serial number
// derived from the DeviceID public key bytes".
func serialFromPubKey(pub *ecdsa.PublicKey) (*big.Int, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key for serial: %w", err)
	}
	digest := lzcrypto.SHA256(der)
	// Clear the top bit so the big.Int is always interpreted as positive
	// per the ASN.1 INTEGER encoding rules for certificate serial numbers.
	digest[0] &= 0x7f
	return new(big.Int).SetBytes(digest[:]), nil
}

// BuildDeviceIDCert issues the self-signed DeviceID certificate stored in
// the data store's certBag on identity change and later concatenated into
// every boot's image cert store as the "DeviceID certificate". Spec.md
// §4.9 describes this artifact as a CSR carrying a serial number; since a
// CSR has no serial-number field and the next paragraph concatenates it
// into a certificate chain, it is realized here as a self-signed
// certificate (subject = issuer = CN=DeviceID) rather than a bare PKCS#10
// request.
func BuildDeviceIDCert(deviceID *lzcrypto.Keypair) ([]byte, error) {
	serial, err := serialFromPubKey(deviceID.Public())
	if err != nil {
		return nil, err
	}
	name := pkix.Name{
		CommonName:   "DeviceID",
		Organization: []string{organization},
		Country:      []string{country},
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               name,
		Issuer:                name,
		SignatureAlgorithm:    x509.ECDSAWithSHA256,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, deviceID.Public(), deviceID.Private)
	if err != nil {
		return nil, fmt.Errorf("issue DeviceID certificate: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), nil
}

// IssueAliasIDCert signs a certificate for aliasID's public key, issued by
// deviceID, subject CN=AliasID, O=Lazarus, C=DE. Built fresh every boot
// since AliasID itself is re-derived every boot.
func IssueAliasIDCert(deviceID *lzcrypto.Keypair, aliasID *lzcrypto.Keypair) ([]byte, error) {
	serial, err := serialFromPubKey(aliasID.Public())
	if err != nil {
		return nil, err
	}
	issuer := pkix.Name{
		CommonName:   "DeviceID",
		Organization: []string{organization},
		Country:      []string{country},
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "AliasID",
			Organization: []string{organization},
			Country:      []string{country},
		},
		Issuer:                issuer,
		SignatureAlgorithm:    x509.ECDSAWithSHA256,
		BasicConstraintsValid: true,
	}
	// CreateCertificate takes the issuer name from the parent's Subject,
	// so the parent carries the DeviceID name.
	parent := &x509.Certificate{Subject: issuer}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, aliasID.Public(), deviceID.Private)
	if err != nil {
		return nil, fmt.Errorf("issue AliasID certificate: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), nil
}

// appendCert appends pem (plus a terminating NUL) to bag starting at
// cursor, returning the updated cursor and the table entry describing the
// new certificate's extent. It fails closed if the certificate doesn't
// fit in the remaining bag capacity.
func appendCert(bag []byte, cursor uint32, certPEM []byte) (uint32, api.CertTableEntry, error) {
	need := uint32(len(certPEM)) + 1
	if cursor+need > uint32(len(bag)) {
		return cursor, api.CertTableEntry{}, fmt.Errorf("%w: certBag exhausted appending %d bytes at cursor %d (capacity %d)", lzerr.ErrFlash, need, cursor, len(bag))
	}
	copy(bag[cursor:], certPEM)
	bag[cursor+uint32(len(certPEM))] = 0
	entry := api.CertTableEntry{Start: cursor, Size: uint32(len(certPEM))}
	return cursor + need, entry, nil
}

// AppendDeviceIDCert appends deviceIDCertPEM to the trust anchors'
// certBag and updates its DEVICEID table slot, on identity change.
func AppendDeviceIDCert(ta *api.TrustAnchors, deviceIDCertPEM []byte) error {
	cursor, entry, err := appendCert(ta.CertBag[:], ta.Info.Cursor, deviceIDCertPEM)
	if err != nil {
		return err
	}
	ta.Info.Cursor = cursor
	ta.Info.CertTable[api.CertSlotDeviceID] = entry
	return nil
}

// certBytes extracts the certificate PEM at entry from bag (without its
// terminating NUL).
func certBytes(bag []byte, entry api.CertTableEntry) []byte {
	if entry.Size == 0 {
		return nil
	}
	return bag[entry.Start : entry.Start+entry.Size]
}

// BuildImageCertStore assembles the next layer's certificate store by
// concatenating, in order, the hub certificate (if present in ta's HUB
// slot), the DeviceID certificate, and a freshly issued AliasID
// certificate, per §4.9.
func BuildImageCertStore(ta *api.TrustAnchors, deviceID, aliasID *lzcrypto.Keypair) (api.ImageCertStore, error) {
	var store api.ImageCertStore
	store.Info.Magic = lzconst.Magic
	store.Info.DevPubKey = ta.Info.DevPubKey
	store.Info.ManagementPubKey = ta.Info.ManagementPubKey

	var cursor uint32
	if hub := certBytes(ta.CertBag[:], ta.Info.CertTable[api.CertSlotHub]); len(hub) > 0 {
		c, entry, err := appendCert(store.CertBag[:], cursor, hub)
		if err != nil {
			return api.ImageCertStore{}, fmt.Errorf("append hub cert: %w", err)
		}
		cursor = c
		store.Info.CertTable[api.ImgCertSlotHub] = entry
	}

	deviceIDCert := certBytes(ta.CertBag[:], ta.Info.CertTable[api.CertSlotDeviceID])
	if len(deviceIDCert) == 0 {
		return api.ImageCertStore{}, fmt.Errorf("%w: no DeviceID certificate in trust anchors", lzerr.ErrNotProvisioned)
	}
	c, entry, err := appendCert(store.CertBag[:], cursor, deviceIDCert)
	if err != nil {
		return api.ImageCertStore{}, fmt.Errorf("append DeviceID cert: %w", err)
	}
	cursor = c
	store.Info.CertTable[api.ImgCertSlotDeviceID] = entry

	aliasCertPEM, err := IssueAliasIDCert(deviceID, aliasID)
	if err != nil {
		return api.ImageCertStore{}, err
	}
	c, entry, err = appendCert(store.CertBag[:], cursor, aliasCertPEM)
	if err != nil {
		return api.ImageCertStore{}, fmt.Errorf("append AliasID cert: %w", err)
	}
	cursor = c
	store.Info.CertTable[api.ImgCertSlotAliasID] = entry
	store.Info.Cursor = cursor

	return store, nil
}

// IdentityChanged reports whether storedDeviceIDPub (decoded from the
// trust anchors' persisted PEM) differs from the currently-derived
// deviceID's public key. Per the open question in spec.md §9, a parse
// failure of storedDeviceIDPubPEM (e.g. on the very first boot before any
// identity has ever been stored) is treated identically to "no prior
// identity": both report changed=true so housekeeping issues a CSR, since
// a device that has never had an identity needs one exactly as much as a
// device whose stored identity is corrupted.
func IdentityChanged(storedDeviceIDPubPEM []byte, deviceID *lzcrypto.Keypair) bool {
	trimmed := bytes.TrimRight(storedDeviceIDPubPEM, "\x00")
	if len(trimmed) == 0 {
		return true
	}
	storedPub, err := lzcrypto.PEMToPub(trimmed)
	if err != nil {
		return true
	}
	return !lzcrypto.ComparePublicKeys(storedPub, deviceID.Public())
}
