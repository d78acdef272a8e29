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

package api

// ImageHeaderContent is the signed portion of an image header: every byte
// here (and none outside it) is what the code-authority signature in
// ImageHeader.Signature covers, per §6 "Header content signed is the fixed-
// layout content sub-structure excluding the signature bytes".
type ImageHeaderContent struct {
	Magic     uint32
	HdrSize   uint32
	Size      uint32
	Name      [ImageNameBytes]byte
	Version   uint32
	IssueTime uint32
	Digest    [SHA256Len]byte
}

// ImageHeader sits at the head of every layer's flash region (core,
// core-patcher, update-downloader, app).
type ImageHeader struct {
	Content   ImageHeaderContent
	Signature Signature
}

// ImageMetadata is the persisted anti-rollback state for one updatable
// image (core-patcher, update-downloader, or app — the running core never
// checks its own metadata).
type ImageMetadata struct {
	Magic         uint32
	LastVersion   uint32
	LastIssueTime uint32
	_             [4]byte
}

// NetworkInfo is the optional network-credential record the Update
// Downloader is provisioned with, when present.
type NetworkInfo struct {
	Magic uint32
	SSID  [NetworkSSIDBytes]byte
	PSK   [NetworkPSKBytes]byte
}

// StaticSymmInfo is the one-time provisioning secret persisted on initial
// boot and wiped on every subsequent boot (§4.7, testable property #8).
type StaticSymmInfo struct {
	Magic      uint32
	StaticSymm [SHA256Len]byte
	DevUUID    [16]byte
}

// ImageInfo groups the three persisted per-image metadata records.
type ImageInfo struct {
	CPatcherMeta    ImageMetadata
	UDownloaderMeta ImageMetadata
	AppMeta         ImageMetadata
}

// ConfigData is the second record in the data store.
type ConfigData struct {
	NWInfo         NetworkInfo
	StaticSymmInfo StaticSymmInfo
	ImgInfo        ImageInfo
}

// Trust-anchor cert table slot indices.
const (
	CertSlotHub = iota
	CertSlotDeviceID
	numDataStoreCertSlots
)

// Image-cert-store slot indices (adds ALIASID to the data-store's HUB and
// DEVICEID slots).
const (
	ImgCertSlotHub = iota
	ImgCertSlotDeviceID
	ImgCertSlotAliasID
	numImgCertSlots
)

// TrustAnchorsInfo is the fixed-size portion of the trust anchors record.
type TrustAnchorsInfo struct {
	Magic            uint32
	DevPubKey        PubKeyPEM
	ManagementPubKey PubKeyPEM
	CodeAuthPubKey   PubKeyPEM
	Cursor           uint32
	CertTable        [numDataStoreCertSlots]CertTableEntry
}

// TrustAnchors is the first record in the data store: persisted trust
// anchors plus an append-only certBag of issued certificates.
type TrustAnchors struct {
	Info    TrustAnchorsInfo
	CertBag [CertBagBytes]byte
}

// DataStore is the complete persistent data-store record: trust anchors
// followed by config data, at platform-linker-fixed offsets (§6).
type DataStore struct {
	TrustAnchors TrustAnchors
	ConfigData   ConfigData
}

// StagingHeaderContent is the signed portion of a staging-area element
// header.
type StagingHeaderContent struct {
	Magic       uint32
	Type        ElementType
	_           [3]byte
	PayloadSize uint32
	Digest      [SHA256Len]byte
	Nonce       [16]byte
}

// StagingHeader authenticates one element (ticket or update payload) in the
// staging area.
type StagingHeader struct {
	Content   StagingHeaderContent
	Signature Signature
}

// ImageCertStoreInfo is the fixed-size portion of the per-boot image
// certificate store handed to the next layer.
type ImageCertStoreInfo struct {
	Magic            uint32
	DevPubKey        PubKeyPEM
	ManagementPubKey PubKeyPEM
	Cursor           uint32
	CertTable        [numImgCertSlots]CertTableEntry
}

// ImageCertStore is assembled fresh every boot and handed to the next
// layer's RAM window alongside NextLayerBootParams.
type ImageCertStore struct {
	Info    ImageCertStoreInfo
	CertBag [CertBagBytes]byte
}

// NextLayerBootParams is the RAM structure populated for the next layer,
// per the need-to-know table in §4.8. Fields not applicable to the chosen
// boot mode are left at their zero value.
type NextLayerBootParams struct {
	Magic                     uint32
	AliasIDPubKey             PubKeyPEM
	AliasIDPrivKey            PrivKeyPEM
	DevUUID                   [16]byte
	CurNonce                  [16]byte
	NextNonce                 [16]byte
	DevAuth                   [SHA256Len]byte
	NWData                    NetworkInfo
	DevReassociationNecessary bool
	FirmwareUpdateNecessary   bool
	_                         [6]byte
}

// Zero overwrites every byte of n with 0.
func (n *NextLayerBootParams) Zero() {
	*n = NextLayerBootParams{}
}

// DeferralTicket is the payload of a DEFERRAL_TICKET staging element: the
// watchdog deferral window, in seconds, the management service wants
// armed for the next boot in place of lzconst.DefaultWatchdogTimeoutSeconds.
type DeferralTicket struct {
	Seconds uint32
}
