package convo

// User-facing texts. The bot speaks Indonesian; rendering beyond plain
// strings is out of scope here.
const (
	textStart = "Halo! Selamat datang di toko kursus.\n" +
		"Ketik *kursus* untuk melihat katalog, *tentang* untuk info bot."
	textAbout = "Bot penjualan kursus. Pilih kategori, pilih kursus, lalu bayar lewat tautan yang dikirim bot."
	textHelp  = "Perintah: *kursus* (katalog), *riwayat* (pembelian), *batal* (batalkan operasi), *admin* (panel admin)."

	textAdminOnly  = "Perintah ini khusus admin."
	textAdminMenu  = "Panel admin — pilih aksi:"
	textAdminIdle  = "Tidak ada operasi yang sedang berjalan."
	textCancelled  = "Operasi dibatalkan. Tidak ada perubahan yang disimpan."
	textGenericErr = "Terjadi kesalahan, coba lagi sebentar lagi."

	textCategoryEmpty  = "Belum ada kategori."
	textCourseEmpty    = "Belum ada kursus di kategori ini."
	textChooseCategory = "Pilih kategori:"
	textChooseCourse   = "Pilih kursus:"
	textPurchaseEmpty  = "Belum ada pembelian."

	textDiscardedPrevious = "Operasi sebelumnya dibatalkan, data yang belum selesai dibuang.\n"

	textPromptCategoryTitle    = "Kirim judul kategori baru:"
	textPromptNewCategoryTitle = "Kirim judul baru untuk kategori ini:"
	textCategoryCreated        = "Kategori dibuat: %s"
	textCategoryRenamed        = "Judul kategori diperbarui."
	textCategoryDeleted        = "Kategori dihapus. Kursus di dalamnya tetap ada tanpa kategori."
	textCategoryHidden         = "Kategori %s disembunyikan dari katalog."
	textCategoryShown          = "Kategori %s ditampilkan kembali di katalog."
	textTitleEmpty             = "Judul tidak boleh kosong, coba lagi:"

	textPromptCourseCategory    = "Pilih kategori untuk kursus baru:"
	textPromptCourseTitle       = "Kirim judul kursus:"
	textPromptCourseDescription = "Kirim deskripsi kursus:"
	textPromptCoursePrice       = "Kirim harga (contoh: 150000 atau 19.99):"
	textPromptCourseLink        = "Kirim tautan materi kursus (atau - jika belum ada):"
	textInvalidCategory         = "Kategori tidak dikenal, pilih dari daftar:"
	textInvalidPrice            = "Harga tidak valid. Kirim angka positif, contoh: 150000 atau 19.99:"
	textDescriptionEmpty        = "Deskripsi tidak boleh kosong, coba lagi:"
	textCourseCreated           = "Kursus dibuat: %s (%s)"
	textCourseDeleted           = "Kursus dihapus."

	textPromptChooseField = "Bagian mana yang mau diubah?"
	textPromptNewValue    = "Kirim nilai baru untuk %s:"
	textInvalidField      = "Pilih salah satu: judul, deskripsi, harga, tautan."
	textCourseUpdated     = "Kursus diperbarui."

	textCourseNotFound      = "Kursus tidak ditemukan."
	textCategoryNotFound    = "Kategori tidak ditemukan."
	textCourseNotSellable   = "Kursus ini belum bisa dibeli."
	textAlreadyPurchased    = "Kamu sudah membeli kursus ini. Akses dikirim ulang di bawah."
	textPaymentUnavailable  = "Pembayaran belum tersedia saat ini, hubungi admin."
	textPaymentFailed       = "Gagal membuat tagihan, coba lagi nanti."
	textInvoiceIssued       = "Tagihan dibuat untuk *%s* (%s).\nBayar lewat tautan berikut:\n%s"
	textDeliveryLink        = "Pembayaran diterima! Akses kursus *%s*:\n%s"
	textDeliveryNoLink      = "Pembayaran diterima! Materi *%s* belum punya tautan, hubungi admin untuk akses."
	textPaymentUnmatched    = "Pembayaran kamu sudah kami terima tapi belum bisa dicocokkan dengan kursus. Hubungi admin."
	textCourseDetail        = "*%s*\n%s\nHarga: %s"
	textCourseDetailNoDesc  = "*%s*\nHarga: %s"
	textAdminCoursesEmpty   = "Belum ada kursus."
	textAdminChooseCategory = "Kelola kategori:"
)
