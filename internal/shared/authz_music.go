package shared

// Music library permissions.
const (
	PermMusicView     = "music.view"
	PermMusicUpload   = "music:upload"
	PermMusicEdit     = "music:edit"
	PermLibraryManage = "library:manage"
)

// MusicScopes lists all permissions related to the music library.
func MusicScopes() []string {
	return []string{
		PermMusicView,
		PermMusicUpload,
		PermMusicEdit,
		PermLibraryManage,
	}
}

// AllScopes unions every registered permission token.
func AllScopes() []string {
	var all []string
	all = append(all, CoreScopes()...)
	all = append(all, MemberScopes()...)
	all = append(all, EventScopes()...)
	all = append(all, MusicScopes()...)
	return all
}
