package status

// Encode writes records as a SUFI bitstream starting at bit 0. The result
// is zero-padded to a whole octet.
func Encode(records []Record) []byte {
	w := &bitWriter{}
	encodeRecords(w, records)
	return w.bytes()
}

// EncodeStatusPDU writes a complete AM STATUS control PDU (D/C=0, type 0)
func EncodeStatusPDU(records []Record) []byte {
	w := &bitWriter{}
	w.write(0, 4)
	encodeRecords(w, records)
	return w.bytes()
}

// EncodeReset writes a RESET or RESET ACK control PDU
func EncodeReset(ack bool, rsn uint8, hfni uint32) []byte {
	w := &bitWriter{}
	w.write(0, 1)
	if ack {
		w.write(2, 3)
	} else {
		w.write(1, 3)
	}
	w.write(uint32(rsn), 1)
	w.write(0, 3)
	w.write(hfni, 20)
	return w.bytes()
}

func encodeRecords(w *bitWriter, records []Record) {
	for _, rec := range records {
		w.write(uint32(rec.Type()), 4)

		switch v := rec.(type) {
		case NoMore:
		case Window:
			w.write(uint32(v.Size), 12)
		case Ack:
			w.write(uint32(v.LastSN), 12)
		case Poll:
			w.write(uint32(v.SN), 12)
		case List:
			w.write(uint32(len(v.Pairs)), 4)
			for _, p := range v.Pairs {
				w.write(uint32(p.SN), 12)
				w.write(uint32(p.Length), 4)
			}
		case Bitmap:
			w.write(uint32(len(v.Bits)-1), 4)
			w.write(uint32(v.FirstSN), 12)
			for _, b := range v.Bits {
				w.write(uint32(b), 8)
			}
		case RelativeList:
			w.write(uint32(len(v.Codewords)), 4)
			w.write(uint32(v.FirstSN), 12)
			for _, cw := range v.Codewords {
				w.write(uint32(cw), 4)
			}
		case MoveWindow:
			if v.Extended {
				w.write(0, 4)
			} else {
				w.write(uint32(len(v.SNs)), 4)
			}
			for _, sn := range v.SNs {
				w.write(uint32(sn), 12)
			}
			w.write(uint32(v.NLength), 4)
		case MoveWindowAck:
			w.write(uint32(v.N), 4)
			w.write(uint32(v.SN), 12)
		}
	}
}
