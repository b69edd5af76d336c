package browser

import "encoding/json"

// stealthScript hides the usual automation fingerprints before any page
// script runs: the webdriver flag, empty plugin list, and missing
// window.chrome all give headless Chrome away.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', {
	get: () => undefined
});

Object.defineProperty(navigator, 'plugins', {
	get: () => [1, 2, 3, 4, 5]
});

Object.defineProperty(navigator, 'languages', {
	get: () => ['zh-CN', 'zh', 'en']
});

window.chrome = {
	runtime: {}
};
`

// domScript collects the page's visible interactive elements.
const domScript = `(() => {
	const elements = [];
	const selectors = ['a', 'button', 'input', 'select', 'textarea', '[onclick]', '[role="button"]'];

	selectors.forEach(selector => {
		document.querySelectorAll(selector).forEach((el, index) => {
			const rect = el.getBoundingClientRect();
			if (rect.width > 0 && rect.height > 0) {
				elements.push({
					tag: el.tagName.toLowerCase(),
					type: el.type || null,
					text: (el.innerText || el.value || el.placeholder || '').substring(0, 100),
					id: el.id || null,
					className: el.getAttribute('class') || null,
					name: el.getAttribute('name') || null,
					href: el.href || null,
					placeholder: el.placeholder || null,
					index: index,
					visible: true
				});
			}
		});
	});

	return elements;
})()`

// findScriptTemplate scans interactive elements for matching text and
// tags each hit with a data-neo-ref attribute so the match can be
// clicked by selector afterwards. Takes a lowercased search string.
const findScriptTemplate = `((searchText) => {
	document.querySelectorAll('[data-neo-ref]').forEach(el => el.removeAttribute('data-neo-ref'));
	const matches = [];

	document.querySelectorAll('a, button, input, select, textarea, [onclick], [role="button"]').forEach((el, i) => {
		if (matches.length >= %d) return;
		const text = (el.innerText || el.value || el.placeholder || el.getAttribute('name') || el.id || '').toLowerCase();
		if (text.includes(searchText)) {
			const ref = 'n' + (matches.length + 1);
			el.setAttribute('data-neo-ref', ref);
			matches.push({
				ref: ref,
				tag: el.tagName.toLowerCase(),
				text: (el.innerText || el.value || '').substring(0, 80),
				index: i
			});
		}
	});

	return matches;
})(%s)`

// selectorProbeTemplate reports whether a selector matches anything.
// Invalid selectors count as no match.
const selectorProbeTemplate = `(() => {
	try {
		return document.querySelector(%s) !== null;
	} catch (e) {
		return false;
	}
})()`

// extractTextTemplate returns the innerText of a selector, or null when
// nothing matches.
const extractTextTemplate = `((sel) => {
	const el = document.querySelector(sel);
	return el === null ? null : el.innerText;
})(%s)`

// loginProbeScript detects login walls: a password field, or login
// wording next to login form inputs.
const loginProbeScript = `(() => {
	const loginKeywords = ['登录', '注册', 'login', 'sign in', 'signin', 'log in'];
	const pageText = (document.body.innerText || '').toLowerCase();

	const hasLoginForm = document.querySelector('input[type="password"]') !== null;

	const hasLoginButton = loginKeywords.some(keyword =>
		pageText.includes(keyword.toLowerCase())
	);

	const hasLoginFormElements = document.querySelectorAll('input[type="password"], input[name*="login"], input[name*="email"]').length > 0;

	return {
		hasLoginForm: hasLoginForm,
		hasLoginButton: hasLoginButton,
		hasLoginFormElements: hasLoginFormElements,
		likelyRequiresLogin: hasLoginForm || (hasLoginButton && hasLoginFormElements)
	};
})()`

// originScript returns the page origin for session storage keys.
const originScript = `window.location.origin`

// localStorageDumpScript lists all localStorage entries.
const localStorageDumpScript = `(() => {
	const items = [];
	for (let i = 0; i < localStorage.length; i++) {
		const k = localStorage.key(i);
		if (k !== null) {
			items.push({ name: k, value: localStorage.getItem(k) || '' });
		}
	}
	return items;
})()`

// localStorageRestoreTemplate writes saved entries back into
// localStorage. Takes a JSON array of {name, value} items.
const localStorageRestoreTemplate = `((items) => {
	items.forEach(it => localStorage.setItem(it.name, it.value));
	return items.length;
})(%s)`

// scrollTemplate scrolls the window by pixel deltas.
const scrollTemplate = `window.scrollBy(%d, %d)`

// jsString renders a Go string as a JavaScript string literal so page
// scripts can take user-supplied text without breaking out of quotes.
func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

// jsonArray renders a value as a JSON literal for page scripts.
func jsonArray(v any) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}
