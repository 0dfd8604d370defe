package webapi

import (
	"fmt"

	bump "github.com/bumpkit/bumpkit/pkg"
	qrcode "github.com/skip2/go-qrcode"
)

// anchorQRPNG renders a package's anchor outpoint as a scannable PNG so
// any third party can construct a spend of it to bump the package.
func anchorQRPNG(ref bump.SpendableOutput, size int) ([]byte, error) {
	content := fmt.Sprintf("anchor:%s:%d?value=%s", ref.TxID, ref.VOut, bump.FormatBTC(ref.Value))
	return qrcode.Encode(content, qrcode.Medium, size)
}
