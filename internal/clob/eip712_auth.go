package clob

import (
	"crypto/ecdsa"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// L1 auth: the /auth endpoints accept an EIP-712 attestation signed by the
// wallet key. Domain and type hashes must match the venue's verifier exactly.
const clobAuthMessage = "This message attests that I control the given wallet"

var (
	eip712DomainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId)"))
	clobAuthTypeHash     = crypto.Keccak256Hash([]byte("ClobAuth(address address,string timestamp,uint256 nonce,string message)"))

	clobAuthNameHash    = crypto.Keccak256Hash([]byte("ClobAuthDomain"))
	clobAuthVersionHash = crypto.Keccak256Hash([]byte("1"))

	bytes32Ty = mustABIType("bytes32")
	addressTy = mustABIType("address")
	uint256Ty = mustABIType("uint256")
)

func mustABIType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return ty
}

func packKeccak(args abi.Arguments, values ...any) (common.Hash, error) {
	encoded, err := args.Pack(values...)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

// buildClobEip712Signature signs the auth attestation for the given wallet
// and returns it as a 0x-prefixed 65-byte signature with v in {27,28}.
func buildClobEip712Signature(privateKey *ecdsa.PrivateKey, signer common.Address, chainID int64, timestamp int64, nonce uint64) (string, error) {
	domainSeparator, err := packKeccak(
		abi.Arguments{{Type: bytes32Ty}, {Type: bytes32Ty}, {Type: bytes32Ty}, {Type: uint256Ty}},
		eip712DomainTypeHash, clobAuthNameHash, clobAuthVersionHash, big.NewInt(chainID),
	)
	if err != nil {
		return "", err
	}

	// Dynamic fields (timestamp, message) encode as keccak256 of their bytes.
	structHash, err := packKeccak(
		abi.Arguments{{Type: bytes32Ty}, {Type: addressTy}, {Type: bytes32Ty}, {Type: uint256Ty}, {Type: bytes32Ty}},
		clobAuthTypeHash,
		signer,
		crypto.Keccak256Hash([]byte(strconv.FormatInt(timestamp, 10))),
		new(big.Int).SetUint64(nonce),
		crypto.Keccak256Hash([]byte(clobAuthMessage)),
	)
	if err != nil {
		return "", err
	}

	digest := crypto.Keccak256Hash(append(append([]byte{0x19, 0x01}, domainSeparator.Bytes()...), structHash.Bytes()...))
	sig, err := crypto.Sign(digest.Bytes(), privateKey)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return "0x" + common.Bytes2Hex(sig), nil
}
